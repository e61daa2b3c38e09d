// Package domain defines the core interfaces and types for FormFlow.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Every method except the instance listing is scoped by instanceID.
type Repository interface {
	// Instance operations
	SaveInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)
	ListInstances(ctx context.Context) ([]*Instance, error)

	// Submission operations
	SaveSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, instanceID string, submissionID string) (*Submission, error)
	UpdateSubmissionStatus(ctx context.Context, instanceID string, submissionID string, status SubmissionStatus) error
	CountSubmissionsByAccount(ctx context.Context, instanceID string, account string, statuses []SubmissionStatus, since time.Time) (int, error)
	CountSubmissionsByIP(ctx context.Context, instanceID string, ip string, since time.Time) (int, error)
	CountSubmissionsByFingerprint(ctx context.Context, instanceID string, fingerprint string, since time.Time) (int, error)
	CountScheduled(ctx context.Context, instanceID string, date string, timeSlot string, statuses []SubmissionStatus) (int, error)
	SummarizeSubmissions(ctx context.Context, instanceID string, from, to time.Time) (*DigestSummary, error)

	// A/B testing
	SaveAssignment(ctx context.Context, a *Assignment) error
	SaveConversion(ctx context.Context, c *Conversion) (bool, error)
	VariationCounts(ctx context.Context, instanceID string, goal string) ([]VariationCounts, error)

	// Fraud
	SaveFraudLog(ctx context.Context, a *FraudAnalysis) error
	ListFraudLogs(ctx context.Context, instanceID string, limit int) ([]*FraudAnalysis, error)
	BlockFingerprint(ctx context.Context, instanceID string, fingerprint string, reason string) error
	IsFingerprintBlocked(ctx context.Context, instanceID string, fingerprint string) (bool, error)

	// Waitlist
	SaveWaitlistEntry(ctx context.Context, e *WaitlistEntry) error
	OldestWaiting(ctx context.Context, instanceID string, date string, timeSlot string) (*WaitlistEntry, error)
	MarkWaitlistNotified(ctx context.Context, instanceID string, entryID string, at time.Time) error

	// Activity log
	SaveActivity(ctx context.Context, l *ActivityLog) error
	ProviderUsage(ctx context.Context, instanceID string, since time.Time) ([]ProviderUsage, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitepath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgreshost"`
	PostgresPort     int    `mapstructure:"postgresport"`
	PostgresUser     string `mapstructure:"postgresuser"`
	PostgresPassword string `mapstructure:"postgrespassword"`
	PostgresDB       string `mapstructure:"postgresdb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}
