package feedback

import (
	"errors"
	"testing"

	"github.com/vaultcore/vaultcore/internal/store"
	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

func openTestStoreWithJob(t *testing.T) (*store.Store, int64) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.CreateEncrypted(dir, "CorrectTestPass123!")
	if err != nil {
		t.Fatalf("CreateEncrypted: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	res, err := s.DB().Exec(`INSERT INTO job_posts(raw_content, client_name) VALUES ('raw', 'Acme')`)
	if err != nil {
		t.Fatalf("seed job_posts: %v", err)
	}
	jobID, _ := res.LastInsertId()

	if _, err := s.DB().Exec(
		`INSERT INTO job_scores(job_post_id, skills_match_percent, client_quality_percent, overall_score) VALUES (?, 80.0, 90.0, 85.0)`,
		jobID,
	); err != nil {
		t.Fatalf("seed job_scores: %v", err)
	}
	return s, jobID
}

func TestCanReportAllowsFirstReport(t *testing.T) {
	s, jobID := openTestStoreWithJob(t)
	res, err := CanReport(s.DB(), jobID)
	if err != nil {
		t.Fatalf("CanReport: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected first report to be allowed")
	}
}

func TestSubmitThenCanReportDeniesWithin24Hours(t *testing.T) {
	s, jobID := openTestStoreWithJob(t)

	input := Input{JobPostID: jobID, IssueWrongSkills: true, UserNotes: "  the skills match was way off  "}
	result, err := Submit(s.DB(), input, "1.0.0")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Success || result.ID == 0 {
		t.Fatalf("expected successful submit with a nonzero id, got %+v", result)
	}

	var notes string
	if err := s.DB().QueryRow(`SELECT user_notes FROM scoring_feedback WHERE id = ?`, result.ID).Scan(&notes); err != nil {
		t.Fatalf("read stored notes: %v", err)
	}
	if notes != "the skills match was way off" {
		t.Fatalf("notes = %q, want trimmed text", notes)
	}

	canReport, err := CanReport(s.DB(), jobID)
	if err != nil {
		t.Fatalf("CanReport: %v", err)
	}
	if canReport.Allowed {
		t.Fatalf("expected second report within 24h to be disallowed")
	}

	_, err = Submit(s.DB(), input, "1.0.0")
	if !errors.Is(err, vaulterrors.ErrDuplicateFeedback) {
		t.Fatalf("expected ErrDuplicateFeedback, got %v", err)
	}
}

func TestSubmitRejectsNoIssueFlags(t *testing.T) {
	s, jobID := openTestStoreWithJob(t)
	_, err := Submit(s.DB(), Input{JobPostID: jobID}, "1.0.0")
	if !errors.Is(err, vaulterrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitRejectsOverlongNotes(t *testing.T) {
	s, jobID := openTestStoreWithJob(t)
	longNotes := make([]byte, 600)
	for i := range longNotes {
		longNotes[i] = 'a'
	}
	_, err := Submit(s.DB(), Input{JobPostID: jobID, IssueOther: true, UserNotes: string(longNotes)}, "1.0.0")
	if !errors.Is(err, vaulterrors.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitSnapshotsScoreAtTimeOfReport(t *testing.T) {
	s, jobID := openTestStoreWithJob(t)
	result, err := Submit(s.DB(), Input{JobPostID: jobID, IssueWrongOverall: true}, "1.0.0")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var overall float64
	if err := s.DB().QueryRow(`SELECT overall_score FROM scoring_feedback WHERE id = ?`, result.ID).Scan(&overall); err != nil {
		t.Fatalf("read snapshotted score: %v", err)
	}
	if overall != 85.0 {
		t.Fatalf("overall_score = %v, want 85.0", overall)
	}
}
