package store

// baseSchema is applied by migration 1. Later schema changes are forward-only
// migrations in migrations.go, never edits to this string — once a store has
// shipped with this schema, changing a CREATE TABLE here would not retroactively
// alter existing files.
const baseSchema = `
CREATE TABLE IF NOT EXISTS schema_history (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    checksum   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS proposals (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    job_content      TEXT NOT NULL,
    generated_text   TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft','completed','exported')),
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
CREATE INDEX IF NOT EXISTS idx_proposals_created_at ON proposals(created_at);

CREATE TABLE IF NOT EXISTS proposal_revisions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id     INTEGER NOT NULL,
    content         TEXT NOT NULL,
    revision_number INTEGER NOT NULL,
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (proposal_id) REFERENCES proposals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_proposal_revisions_proposal ON proposal_revisions(proposal_id);

CREATE TABLE IF NOT EXISTS job_posts (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    url                    TEXT UNIQUE,
    raw_content            TEXT NOT NULL,
    client_name            TEXT,
    job_title              TEXT,
    skills_match_percent   REAL,
    client_quality_percent REAL,
    overall_score          REAL,
    score_color            TEXT NOT NULL DEFAULT 'gray' CHECK (score_color IN ('green','yellow','red','gray')),
    analysis_status        TEXT NOT NULL DEFAULT 'pending_analysis' CHECK (analysis_status IN ('pending_analysis','analyzing','analyzed','error')),
    source                 TEXT NOT NULL DEFAULT '',
    import_batch_id        TEXT,
    created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS job_skills (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_post_id INTEGER NOT NULL,
    skill       TEXT NOT NULL,
    FOREIGN KEY (job_post_id) REFERENCES job_posts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_job_skills_job_post ON job_skills(job_post_id);

CREATE TABLE IF NOT EXISTS job_scores (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    job_post_id            INTEGER NOT NULL UNIQUE,
    skills_match_percent   REAL,
    client_quality_percent REAL,
    overall_score          REAL,
    computed_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (job_post_id) REFERENCES job_posts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS voice_profiles (
    user_id         TEXT PRIMARY KEY,
    tone            REAL NOT NULL DEFAULT 0.5,
    formality       REAL NOT NULL DEFAULT 0.5,
    common_phrases  TEXT NOT NULL DEFAULT '[]',
    updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS safety_overrides (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    proposal_id            INTEGER NOT NULL,
    timestamp              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ai_score               REAL NOT NULL,
    threshold_at_override  REAL NOT NULL,
    status                 TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','successful','unsuccessful')),
    user_feedback          TEXT,
    FOREIGN KEY (proposal_id) REFERENCES proposals(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS scoring_feedback (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    job_post_id             INTEGER NOT NULL,
    reported_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    skills_match_percent    REAL,
    client_quality_percent  REAL,
    overall_score           REAL,
    issue_wrong_skills      INTEGER NOT NULL DEFAULT 0,
    issue_wrong_client      INTEGER NOT NULL DEFAULT 0,
    issue_wrong_overall     INTEGER NOT NULL DEFAULT 0,
    issue_missing_context   INTEGER NOT NULL DEFAULT 0,
    issue_outdated          INTEGER NOT NULL DEFAULT 0,
    issue_other             INTEGER NOT NULL DEFAULT 0,
    user_notes              TEXT NOT NULL DEFAULT '' CHECK (length(user_notes) <= 500),
    app_version             TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (job_post_id) REFERENCES job_posts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_scoring_feedback_job_reported ON scoring_feedback(job_post_id, reported_at);

CREATE TABLE IF NOT EXISTS hook_strategies (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT NOT NULL UNIQUE,
    description  TEXT NOT NULL DEFAULT '',
    examples     TEXT NOT NULL DEFAULT '[]',
    best_for     TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','deprecated','retired')),
    remote_id    TEXT,
    ab_weight    REAL NOT NULL DEFAULT 1.0 CHECK (ab_weight >= 0.0 AND ab_weight <= 1.0)
);

-- Feature-domain tables whose row shape is opaque to this spec but whose
-- presence in the importer's fixed table order (SPEC_FULL.md §4.6.2) must be
-- honored.
CREATE TABLE IF NOT EXISTS user_skills (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    name  TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rss_imports (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    feed_url     TEXT NOT NULL,
    imported_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    item_count   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS golden_set_proposals (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    job_content TEXT NOT NULL,
    ideal_text  TEXT NOT NULL,
    added_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
