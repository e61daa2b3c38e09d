package repository

// Schema definitions for the FormFlow database.
// Compatible with both SQLite and PostgreSQL.

const schemaInstances = `
CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    utility TEXT NOT NULL DEFAULT '',
    settings TEXT NOT NULL,
    form_schema TEXT NOT NULL,
    variations TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_slug ON instances(slug);
`

const schemaSubmissions = `
CREATE TABLE IF NOT EXISTS submissions (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    form_data TEXT NOT NULL,
    account_number TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL DEFAULT '',
    schedule_date TEXT NOT NULL DEFAULT '',
    schedule_time TEXT NOT NULL DEFAULT '',
    variation_id TEXT NOT NULL DEFAULT '',
    risk_score REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_account ON submissions(instance_id, account_number, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_ip ON submissions(instance_id, ip, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_fingerprint ON submissions(instance_id, fingerprint, created_at);
CREATE INDEX IF NOT EXISTS idx_submissions_schedule ON submissions(instance_id, schedule_date, schedule_time, status);
`

const schemaABTesting = `
CREATE TABLE IF NOT EXISTS ab_assignments (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    variation_id TEXT NOT NULL,
    ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ab_assignments_instance ON ab_assignments(instance_id, variation_id);

CREATE TABLE IF NOT EXISTS ab_conversions (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    variation_id TEXT NOT NULL,
    goal TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (instance_id, session_id, goal)
);

CREATE INDEX IF NOT EXISTS idx_ab_conversions_instance ON ab_conversions(instance_id, variation_id);
`

// schemaFraud defines the analysis log and the blocked fingerprint list.
const schemaFraud = `
CREATE TABLE IF NOT EXISTS fraud_logs (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    submission_id TEXT NOT NULL DEFAULT '',
    ip TEXT NOT NULL DEFAULT '',
    masked_email TEXT NOT NULL DEFAULT '',
    masked_account TEXT NOT NULL DEFAULT '',
    risk_score REAL NOT NULL,
    threshold REAL NOT NULL,
    passed INTEGER NOT NULL,
    action TEXT NOT NULL,
    checks TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_logs_instance ON fraud_logs(instance_id, created_at);

CREATE TABLE IF NOT EXISTS fraud_fingerprints (
    instance_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    blocked_at TIMESTAMP NOT NULL,
    PRIMARY KEY (instance_id, fingerprint)
);
`

const schemaWaitlist = `
CREATE TABLE IF NOT EXISTS waitlist (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT '',
    preferred_date TEXT NOT NULL,
    preferred_time TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    notified_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_waitlist_slot ON waitlist(instance_id, preferred_date, status, created_at);
`

const schemaActivityLogs = `
CREATE TABLE IF NOT EXISTS activity_logs (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    action TEXT NOT NULL,
    success INTEGER NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_logs_instance ON activity_logs(instance_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInstances,
		schemaSubmissions,
		schemaABTesting,
		schemaFraud,
		schemaWaitlist,
		schemaActivityLogs,
	}
}
