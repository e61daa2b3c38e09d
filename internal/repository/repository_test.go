package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "formflow-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	instanceID := "inst-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		if err := repo.Migrate(ctx); err != nil {
			t.Errorf("second Migrate failed: %v", err)
		}
	})

	t.Run("SaveAndGetInstance", func(t *testing.T) {
		settings, err := domain.ParseSettings([]byte(`{"features":{"capacity_management":{"enabled":true,"daily_cap":2,"blackout_dates":["2024-07-04",{"start":"2024-12-24","end":"2024-12-26"}]}}}`))
		if err != nil {
			t.Fatalf("ParseSettings failed: %v", err)
		}

		inst := &domain.Instance{
			ID:       instanceID,
			Name:     "Delmarva Energy Wise",
			Slug:     "delmarva",
			Settings: *settings,
			Schema: domain.FormSchema{
				Fields: []domain.Field{{Name: "state", Type: "select"}},
				Rules: []domain.Rule{{
					TargetField: "county",
					Logic:       domain.LogicAll,
					Action:      domain.ActionShow,
					Conditions:  []domain.Condition{{Field: "state", Operator: domain.OpEquals, Value: "DE"}},
				}},
			},
			Variations: []domain.Variation{{ID: "a", Weight: 50, IsControl: true}, {ID: "b", Weight: 50}},
			Active:     true,
		}

		if err := repo.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance failed: %v", err)
		}

		got, err := repo.GetInstance(ctx, instanceID)
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}

		if got.Slug != "delmarva" {
			t.Errorf("expected slug delmarva, got %s", got.Slug)
		}
		if !got.Active {
			t.Error("expected instance to be active")
		}
		if got.Settings.Capacity == nil || got.Settings.Capacity.DailyCap != 2 {
			t.Fatalf("expected capacity settings to round-trip, got %+v", got.Settings.Capacity)
		}
		if len(got.Settings.Capacity.BlackoutDates) != 2 || !got.Settings.Capacity.BlackoutDates[1].IsRange() {
			t.Errorf("expected blackout dates to round-trip, got %+v", got.Settings.Capacity.BlackoutDates)
		}
		if len(got.Schema.Rules) != 1 || got.Schema.Rules[0].TargetField != "county" {
			t.Errorf("expected schema rules to round-trip, got %+v", got.Schema.Rules)
		}
		if len(got.Variations) != 2 {
			t.Errorf("expected 2 variations, got %d", len(got.Variations))
		}
	})

	t.Run("GetInstanceNotFound", func(t *testing.T) {
		_, err := repo.GetInstance(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RequiresInstanceID", func(t *testing.T) {
		if err := repo.SaveSubmission(ctx, &domain.Submission{ID: "s"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.GetSubmission(ctx, "", "s"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.CountSubmissionsByIP(ctx, "", "1.2.3.4", time.Now()); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}

func TestSubmissionCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	instanceID := "inst-001"
	now := time.Now().UTC()

	subs := []*domain.Submission{
		{ID: "s1", Status: domain.StatusCompleted, AccountNumber: "1001", IP: "10.0.0.1", Fingerprint: "fp1", ScheduleDate: "2024-06-01", ScheduleTime: "AM", CreatedAt: now.Add(-10 * time.Minute)},
		{ID: "s2", Status: domain.StatusInProgress, AccountNumber: "1001", IP: "10.0.0.1", Fingerprint: "fp1", ScheduleDate: "2024-06-01", ScheduleTime: "PM", CreatedAt: now.Add(-20 * time.Minute)},
		{ID: "s3", Status: domain.StatusCancelled, AccountNumber: "1002", IP: "10.0.0.1", ScheduleDate: "2024-06-01", ScheduleTime: "AM", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "s4", Status: domain.StatusCompleted, AccountNumber: "1001", IP: "10.0.0.2", CreatedAt: now.Add(-40 * 24 * time.Hour)},
	}
	for _, s := range subs {
		s.InstanceID = instanceID
		s.FormData = domain.FieldValues{"first_name": "Ada"}
		if err := repo.SaveSubmission(ctx, s); err != nil {
			t.Fatalf("SaveSubmission %s failed: %v", s.ID, err)
		}
	}

	t.Run("ByAccount", func(t *testing.T) {
		n, err := repo.CountSubmissionsByAccount(ctx, instanceID, "1001", []domain.SubmissionStatus{domain.StatusCompleted}, now.Add(-30*24*time.Hour))
		if err != nil {
			t.Fatalf("CountSubmissionsByAccount failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 completed submission in 30 days, got %d", n)
		}
	})

	t.Run("ByIP", func(t *testing.T) {
		n, err := repo.CountSubmissionsByIP(ctx, instanceID, "10.0.0.1", now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountSubmissionsByIP failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 submissions in the last hour, got %d", n)
		}
	})

	t.Run("ByFingerprint", func(t *testing.T) {
		n, err := repo.CountSubmissionsByFingerprint(ctx, instanceID, "fp1", now.Add(-7*24*time.Hour))
		if err != nil {
			t.Fatalf("CountSubmissionsByFingerprint failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2, got %d", n)
		}
	})

	t.Run("Scheduled", func(t *testing.T) {
		day, err := repo.CountScheduled(ctx, instanceID, "2024-06-01", "", domain.CapacityStatuses)
		if err != nil {
			t.Fatalf("CountScheduled failed: %v", err)
		}
		if day != 2 {
			t.Errorf("expected 2 held slots on the day, got %d", day)
		}

		am, err := repo.CountScheduled(ctx, instanceID, "2024-06-01", "AM", domain.CapacityStatuses)
		if err != nil {
			t.Fatalf("CountScheduled failed: %v", err)
		}
		if am != 1 {
			t.Errorf("expected cancelled booking to free the AM slot, got %d", am)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		if err := repo.UpdateSubmissionStatus(ctx, instanceID, "s1", domain.StatusCancelled); err != nil {
			t.Fatalf("UpdateSubmissionStatus failed: %v", err)
		}
		got, err := repo.GetSubmission(ctx, instanceID, "s1")
		if err != nil {
			t.Fatalf("GetSubmission failed: %v", err)
		}
		if got.Status != domain.StatusCancelled {
			t.Errorf("expected cancelled, got %s", got.Status)
		}
		if got.FormData["first_name"] != "Ada" {
			t.Errorf("expected form data to round-trip, got %v", got.FormData)
		}

		if err := repo.UpdateSubmissionStatus(ctx, "other", "s1", domain.StatusCompleted); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across instances, got: %v", err)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		summary, err := repo.SummarizeSubmissions(ctx, instanceID, now.Add(-24*time.Hour), now.Add(time.Minute))
		if err != nil {
			t.Fatalf("SummarizeSubmissions failed: %v", err)
		}
		if summary.Total() != 3 {
			t.Errorf("expected 3 submissions in the last day, got %d", summary.Total())
		}
		if summary.Cancelled != 2 {
			t.Errorf("expected 2 cancelled, got %d", summary.Cancelled)
		}
	})
}

func TestExperimentCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	instanceID := "inst-ab"

	for _, a := range []domain.Assignment{
		{SessionID: "s1", VariationID: "a"},
		{SessionID: "s2", VariationID: "a"},
		{SessionID: "s3", VariationID: "b"},
	} {
		a.InstanceID = instanceID
		if err := repo.SaveAssignment(ctx, &a); err != nil {
			t.Fatalf("SaveAssignment failed: %v", err)
		}
	}

	first, err := repo.SaveConversion(ctx, &domain.Conversion{InstanceID: instanceID, SessionID: "s1", VariationID: "a", Goal: domain.GoalSubmission})
	if err != nil || !first {
		t.Fatalf("expected first conversion to be recorded, got %v, %v", first, err)
	}
	dup, err := repo.SaveConversion(ctx, &domain.Conversion{InstanceID: instanceID, SessionID: "s1", VariationID: "a", Goal: domain.GoalSubmission})
	if err != nil {
		t.Fatalf("duplicate conversion failed: %v", err)
	}
	if dup {
		t.Error("expected duplicate conversion to be ignored")
	}

	counts, err := repo.VariationCounts(ctx, instanceID, domain.GoalSubmission)
	if err != nil {
		t.Fatalf("VariationCounts failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 variations, got %d", len(counts))
	}
	if counts[0].VariationID != "a" || counts[0].Assignments != 2 || counts[0].Conversions != 1 {
		t.Errorf("unexpected counts for a: %+v", counts[0])
	}
	if counts[1].VariationID != "b" || counts[1].Assignments != 1 || counts[1].Conversions != 0 {
		t.Errorf("unexpected counts for b: %+v", counts[1])
	}
}

func TestFraudPersistence(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	instanceID := "inst-fraud"

	analysis := &domain.FraudAnalysis{
		InstanceID:  instanceID,
		RiskScore:   80,
		Threshold:   70,
		Passed:      false,
		Action:      domain.FraudFlag,
		IP:          "203.0.113.9",
		MaskedEmail: "a***@example.com",
		Checks: []domain.CheckResult{
			{Check: domain.CheckBotBehavior, Flagged: true, Severity: 1.4, Weight: 20, Score: 28},
		},
	}
	if err := repo.SaveFraudLog(ctx, analysis); err != nil {
		t.Fatalf("SaveFraudLog failed: %v", err)
	}
	if analysis.ID == "" {
		t.Error("expected an id to be assigned")
	}

	logs, err := repo.ListFraudLogs(ctx, instanceID, 10)
	if err != nil {
		t.Fatalf("ListFraudLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Passed || logs[0].Checks[0].Check != domain.CheckBotBehavior {
		t.Errorf("unexpected fraud logs: %+v", logs)
	}

	blocked, err := repo.IsFingerprintBlocked(ctx, instanceID, "fp-x")
	if err != nil || blocked {
		t.Fatalf("expected fingerprint not blocked, got %v, %v", blocked, err)
	}
	if err := repo.BlockFingerprint(ctx, instanceID, "fp-x", "manual"); err != nil {
		t.Fatalf("BlockFingerprint failed: %v", err)
	}
	if err := repo.BlockFingerprint(ctx, instanceID, "fp-x", "again"); err != nil {
		t.Fatalf("BlockFingerprint should be idempotent: %v", err)
	}
	blocked, err = repo.IsFingerprintBlocked(ctx, instanceID, "fp-x")
	if err != nil || !blocked {
		t.Errorf("expected fingerprint blocked, got %v, %v", blocked, err)
	}
}

func TestWaitlist(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	instanceID := "inst-wait"
	now := time.Now().UTC()

	entries := []*domain.WaitlistEntry{
		{ID: "w-pm", Email: "pm@example.com", PreferredDate: "2024-06-01", PreferredTime: "PM", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "w-any", Email: "any@example.com", PreferredDate: "2024-06-01", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "w-am", Email: "am@example.com", PreferredDate: "2024-06-01", PreferredTime: "AM", CreatedAt: now.Add(-1 * time.Hour)},
	}
	for _, e := range entries {
		e.InstanceID = instanceID
		if err := repo.SaveWaitlistEntry(ctx, e); err != nil {
			t.Fatalf("SaveWaitlistEntry failed: %v", err)
		}
	}

	got, err := repo.OldestWaiting(ctx, instanceID, "2024-06-01", "AM")
	if err != nil {
		t.Fatalf("OldestWaiting failed: %v", err)
	}
	if got.ID != "w-any" {
		t.Errorf("expected oldest entry without a time preference, got %s", got.ID)
	}

	if err := repo.MarkWaitlistNotified(ctx, instanceID, got.ID, now); err != nil {
		t.Fatalf("MarkWaitlistNotified failed: %v", err)
	}
	if err := repo.MarkWaitlistNotified(ctx, instanceID, got.ID, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an already notified entry, got: %v", err)
	}

	got, err = repo.OldestWaiting(ctx, instanceID, "2024-06-01", "AM")
	if err != nil {
		t.Fatalf("OldestWaiting failed: %v", err)
	}
	if got.ID != "w-am" {
		t.Errorf("expected w-am next, got %s", got.ID)
	}

	if _, err := repo.OldestWaiting(ctx, instanceID, "2024-06-02", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an empty day, got: %v", err)
	}
}

func TestProviderUsage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, l := range []domain.ActivityLog{
		{Provider: "twilio", Action: "send_sms", Success: true},
		{Provider: "twilio", Action: "send_sms", Success: false, Detail: "401"},
		{Provider: "slack", Action: "post_webhook", Success: true},
	} {
		l.InstanceID = "inst-usage"
		if err := repo.SaveActivity(ctx, &l); err != nil {
			t.Fatalf("SaveActivity failed: %v", err)
		}
	}

	usage, err := repo.ProviderUsage(ctx, "inst-usage", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProviderUsage failed: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(usage))
	}
	if usage[1].Provider != "twilio" || usage[1].Total != 2 || usage[1].Failed != 1 {
		t.Errorf("unexpected twilio usage: %+v", usage[1])
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (" + inClause(2) + ")")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	lite := &SQLRepository{driver: "sqlite"}
	if q := lite.rebind("a = ?"); q != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %q", q)
	}
}

func TestDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "ff"})
	for _, part := range []string{"host=localhost", "port=5432", "dbname=formflow", "sslmode=disable", "user=ff"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("expected %q in %q", part, dsn)
		}
	}

	if lite := sqliteDSN("/tmp/x.db"); !strings.HasPrefix(lite, "file:/tmp/x.db?") || !strings.Contains(lite, "_time_format=sqlite") {
		t.Errorf("unexpected sqlite dsn %q", lite)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestCorruptRowsAreReported(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveInstance(ctx, &domain.Instance{ID: "inst-bad", Name: "Bad", Slug: "bad"}); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}
	sub := &domain.Submission{ID: "s1", InstanceID: "inst-bad", Status: domain.StatusCompleted, FormData: domain.FieldValues{"a": "b"}, CreatedAt: time.Now().UTC()}
	if err := repo.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission failed: %v", err)
	}

	if _, err := repo.db.ExecContext(ctx, `UPDATE instances SET variations = '{oops' WHERE id = 'inst-bad'`); err != nil {
		t.Fatalf("failed to corrupt instance: %v", err)
	}
	if _, err := repo.db.ExecContext(ctx, `UPDATE submissions SET form_data = '[1,' WHERE id = 's1'`); err != nil {
		t.Fatalf("failed to corrupt submission: %v", err)
	}

	if _, err := repo.GetInstance(ctx, "inst-bad"); err == nil || !strings.Contains(err.Error(), "variations") {
		t.Errorf("expected a variations parse error, got: %v", err)
	}
	if _, err := repo.GetSubmission(ctx, "inst-bad", "s1"); err == nil || !strings.Contains(err.Error(), "form data") {
		t.Errorf("expected a form data parse error, got: %v", err)
	}
}
