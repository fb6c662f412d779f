// Package feedback implements the FeedbackLedger: a bounded, snapshotted
// record of a user's disagreement with a job's computed score, rate
// limited to one report per job per 24 hours.
package feedback

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vaultcore/vaultcore/internal/vaulterrors"
)

const reportWindow = 24 * time.Hour
const maxNotesLength = 500

// Input is the host-supplied feedback payload before validation.
type Input struct {
	JobPostID           int64
	IssueWrongSkills    bool
	IssueWrongClient    bool
	IssueWrongOverall   bool
	IssueMissingContext bool
	IssueOutdated       bool
	IssueOther          bool
	UserNotes           string
}

func (in Input) anyIssueSet() bool {
	return in.IssueWrongSkills || in.IssueWrongClient || in.IssueWrongOverall ||
		in.IssueMissingContext || in.IssueOutdated || in.IssueOther
}

// CanReportResult is the result of CanReport.
type CanReportResult struct {
	Allowed        bool
	LastReportedAt *time.Time
}

// SubmitResult is the result of a successful Submit.
type SubmitResult struct {
	ID      int64
	Success bool
}

// CanReport reports whether jobPostID may receive a new feedback row: false
// if any row exists for it within the last reportWindow.
func CanReport(db *sql.DB, jobPostID int64) (CanReportResult, error) {
	var lastReported sql.NullString
	err := db.QueryRow(
		`SELECT reported_at FROM scoring_feedback WHERE job_post_id = ? ORDER BY reported_at DESC LIMIT 1`,
		jobPostID,
	).Scan(&lastReported)
	if err == sql.ErrNoRows {
		return CanReportResult{Allowed: true}, nil
	}
	if err != nil {
		return CanReportResult{}, fmt.Errorf("%w: %v", vaulterrors.ErrDatabase, err)
	}

	ts, err := time.Parse("2006-01-02 15:04:05", lastReported.String)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, lastReported.String)
		if err != nil {
			return CanReportResult{}, fmt.Errorf("%w: unparsable reported_at %q", vaulterrors.ErrDatabase, lastReported.String)
		}
	}

	if time.Since(ts) >= reportWindow {
		return CanReportResult{Allowed: true, LastReportedAt: &ts}, nil
	}
	return CanReportResult{Allowed: false, LastReportedAt: &ts}, nil
}

// Submit validates input, rechecks the 24-hour window, snapshots the job's
// current score row, and inserts a new feedback row.
func Submit(db *sql.DB, input Input, appVersion string) (SubmitResult, error) {
	if !input.anyIssueSet() {
		return SubmitResult{}, fmt.Errorf("%w: at least one issue flag must be set", vaulterrors.ErrValidation)
	}
	notes := strings.TrimSpace(input.UserNotes)
	if n := utf8.RuneCountInString(notes); n > maxNotesLength {
		return SubmitResult{}, fmt.Errorf("%w: notes must be %d characters or fewer, got %d", vaulterrors.ErrValidation, maxNotesLength, n)
	}

	canReport, err := CanReport(db, input.JobPostID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !canReport.Allowed {
		return SubmitResult{}, vaulterrors.ErrDuplicateFeedback
	}

	var skillsPct, clientPct, overall sql.NullFloat64
	err = db.QueryRow(
		`SELECT skills_match_percent, client_quality_percent, overall_score FROM job_scores WHERE job_post_id = ?`,
		input.JobPostID,
	).Scan(&skillsPct, &clientPct, &overall)
	if err != nil && err != sql.ErrNoRows {
		return SubmitResult{}, fmt.Errorf("%w: snapshot score row: %v", vaulterrors.ErrDatabase, err)
	}

	res, err := db.Exec(
		`INSERT INTO scoring_feedback(
			job_post_id, skills_match_percent, client_quality_percent, overall_score,
			issue_wrong_skills, issue_wrong_client, issue_wrong_overall,
			issue_missing_context, issue_outdated, issue_other,
			user_notes, app_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		input.JobPostID, nullableFloat(skillsPct), nullableFloat(clientPct), nullableFloat(overall),
		boolToInt(input.IssueWrongSkills), boolToInt(input.IssueWrongClient), boolToInt(input.IssueWrongOverall),
		boolToInt(input.IssueMissingContext), boolToInt(input.IssueOutdated), boolToInt(input.IssueOther),
		notes, appVersion,
	)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: insert feedback row: %v", vaulterrors.ErrDatabase, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: read inserted id: %v", vaulterrors.ErrDatabase, err)
	}

	return SubmitResult{ID: id, Success: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat(v sql.NullFloat64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Float64
}
