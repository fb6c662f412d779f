package main

import (
	"strconv"

	"github.com/spf13/cobra"

	vaultcore "github.com/vaultcore/vaultcore"

	"github.com/vaultcore/vaultcore/internal/feedback"
	"github.com/vaultcore/vaultcore/internal/ui"
)

var feedbackPassphraseFlag string

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Report or inspect scoring feedback for a job post",
}

var feedbackSubmitCmd = &cobra.Command{
	Use:   "submit <job-post-id>",
	Short: "Submit scoring feedback for a job post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobPostID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		wrongSkills, _ := flags.GetBool("wrong-skills")
		wrongClient, _ := flags.GetBool("wrong-client")
		wrongOverall, _ := flags.GetBool("wrong-overall")
		missingContext, _ := flags.GetBool("missing-context")
		outdated, _ := flags.GetBool("outdated")
		other, _ := flags.GetBool("other")
		notes, _ := flags.GetString("notes")

		v := vaultcore.New(appDataDir, Version)
		passphrase, err := promptSecret("Passphrase", feedbackPassphraseFlag)
		if err != nil {
			return err
		}
		if err := v.Unlock(passphrase); err != nil {
			return err
		}
		defer v.Close()

		result, err := v.SubmitFeedback(feedback.Input{
			JobPostID:           jobPostID,
			IssueWrongSkills:    wrongSkills,
			IssueWrongClient:    wrongClient,
			IssueWrongOverall:   wrongOverall,
			IssueMissingContext: missingContext,
			IssueOutdated:       outdated,
			IssueOther:          other,
			UserNotes:           notes,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			ui.RenderPass("feedback recorded (id %d)", result.ID)
		}
		return nil
	},
}

var feedbackCanReportCmd = &cobra.Command{
	Use:   "can-report <job-post-id>",
	Short: "Check whether a job post may currently receive new feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobPostID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		v := vaultcore.New(appDataDir, Version)
		passphrase, err := promptSecret("Passphrase", feedbackPassphraseFlag)
		if err != nil {
			return err
		}
		if err := v.Unlock(passphrase); err != nil {
			return err
		}
		defer v.Close()

		result, err := v.CanReportFeedback(jobPostID)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if result.Allowed {
			ui.RenderPass("feedback allowed for job post %d", jobPostID)
		} else {
			ui.RenderWarn("feedback already submitted within the last 24 hours (last: %v)", result.LastReportedAt)
		}
		return nil
	},
}

func init() {
	feedbackCmd.PersistentFlags().StringVar(&feedbackPassphraseFlag, "passphrase", "", "passphrase (prompted if omitted)")

	feedbackSubmitCmd.Flags().Bool("wrong-skills", false, "the identified skills were wrong")
	feedbackSubmitCmd.Flags().Bool("wrong-client", false, "the client assessment was wrong")
	feedbackSubmitCmd.Flags().Bool("wrong-overall", false, "the overall score was wrong")
	feedbackSubmitCmd.Flags().Bool("missing-context", false, "scoring was missing important context")
	feedbackSubmitCmd.Flags().Bool("outdated", false, "the job post is outdated")
	feedbackSubmitCmd.Flags().Bool("other", false, "some other issue")
	feedbackSubmitCmd.Flags().String("notes", "", "free-text notes, max 500 characters")

	feedbackCmd.AddCommand(feedbackSubmitCmd, feedbackCanReportCmd)
	rootCmd.AddCommand(feedbackCmd)
}
