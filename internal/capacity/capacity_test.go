package capacity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formflow/formflow/internal/bus"
	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/repository"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "capacity-test-*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func book(t *testing.T, repo *repository.SQLRepository, n int, date, slot string, status domain.SubmissionStatus) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.SaveSubmission(context.Background(), &domain.Submission{
			ID:           fmt.Sprintf("%s-%s-%s-%d", date, slot, status, i),
			InstanceID:   "inst-1",
			Status:       status,
			ScheduleDate: date,
			ScheduleTime: slot,
		})
		require.NoError(t, err)
	}
}

func capInstance(cfg *domain.CapacityConfig) *domain.Instance {
	return &domain.Instance{ID: "inst-1", Settings: domain.Settings{Capacity: cfg}}
}

func TestIsBlackoutDate(t *testing.T) {
	cfg := &domain.CapacityConfig{
		Enabled: true,
		BlackoutDates: []domain.BlackoutDate{
			{Start: "2024-07-01", End: "2024-07-05", Reason: "holiday week"},
			{Start: "2024-12-25"},
			{Start: "not-a-date"},
		},
	}

	tests := map[string]bool{
		"2024-07-01": true,
		"2024-07-03": true,
		"2024-07-05": true,
		"2024-07-06": false,
		"2024-06-30": false,
		"2024-12-25": true,
		"2024-12-26": false,
		"garbage":    false,
	}
	for date, want := range tests {
		assert.Equal(t, want, IsBlackoutDate(cfg, date), date)
	}
	assert.False(t, IsBlackoutDate(nil, "2024-07-03"))
}

func TestIsSlotAvailable(t *testing.T) {
	repo := newTestRepo(t)
	f := NewFilter(repo, nil)
	ctx := context.Background()

	book(t, repo, 2, "2024-06-01", "PM", domain.StatusCompleted)
	book(t, repo, 1, "2024-06-02", "AM", domain.StatusInProgress)
	book(t, repo, 3, "2024-06-02", "PM", domain.StatusCancelled)

	inst := capInstance(&domain.CapacityConfig{Enabled: true, DailyCap: 2, PerSlotCap: 1})

	ok, err := f.IsSlotAvailable(ctx, inst, "2024-06-01", "AM")
	require.NoError(t, err)
	assert.False(t, ok, "daily cap excludes the day even with an empty slot")

	ok, _ = f.IsSlotAvailable(ctx, inst, "2024-06-02", "AM")
	assert.False(t, ok, "in-progress bookings hold the slot")

	ok, _ = f.IsSlotAvailable(ctx, inst, "2024-06-02", "PM")
	assert.True(t, ok, "cancelled bookings do not count")

	ok, _ = f.IsSlotAvailable(ctx, capInstance(nil), "2024-06-01", "AM")
	assert.True(t, ok, "no capacity config means no limits")

	unlimited := capInstance(&domain.CapacityConfig{Enabled: true})
	ok, _ = f.IsSlotAvailable(ctx, unlimited, "2024-06-01", "PM")
	assert.True(t, ok)

	blackout := capInstance(&domain.CapacityConfig{
		Enabled:       true,
		BlackoutDates: []domain.BlackoutDate{{Start: "2024-06-03"}},
	})
	ok, _ = f.IsSlotAvailable(ctx, blackout, "2024-06-03", "AM")
	assert.False(t, ok)
}

func TestFilterAvailableSlots(t *testing.T) {
	repo := newTestRepo(t)
	f := NewFilter(repo, nil)
	ctx := context.Background()

	book(t, repo, 3, "2024-06-10", "AM", domain.StatusCompleted)
	book(t, repo, 1, "2024-06-11", "AM", domain.StatusCompleted)
	book(t, repo, 1, "2024-06-12", "AM", domain.StatusCompleted)
	book(t, repo, 1, "2024-06-12", "PM", domain.StatusCompleted)

	inst := capInstance(&domain.CapacityConfig{
		Enabled:       true,
		DailyCap:      3,
		PerSlotCap:    1,
		BlackoutDates: []domain.BlackoutDate{{Start: "2024-06-13", End: "2024-06-14"}},
	})

	slots := []domain.TimeSlot{{Code: "AM"}, {Code: "PM"}}
	days := []domain.DaySlots{
		{Date: "2024-06-10", Times: slots},
		{Date: "2024-06-11", Times: slots},
		{Date: "2024-06-12", Times: slots},
		{Date: "2024-06-13", Times: slots},
		{Date: "2024-06-15", Times: slots},
		{Date: "2024-06-16"},
	}

	got, err := f.FilterAvailableSlots(ctx, inst, days)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2024-06-11", got[0].Date)
	assert.Equal(t, []domain.TimeSlot{{Code: "PM"}}, got[0].Times)
	assert.Equal(t, "2024-06-15", got[1].Date)
	assert.Len(t, got[1].Times, 2)

	assert.Len(t, days[1].Times, 2, "input is not mutated")
}

type failingStore struct{}

func (failingStore) CountScheduled(ctx context.Context, instanceID, date, timeSlot string, statuses []domain.SubmissionStatus) (int, error) {
	return 0, errors.New("db down")
}

func TestFilterPropagatesErrors(t *testing.T) {
	f := NewFilter(failingStore{}, nil)
	inst := capInstance(&domain.CapacityConfig{Enabled: true, PerSlotCap: 1})

	_, err := f.FilterAvailableSlots(context.Background(), inst, []domain.DaySlots{{Date: "2024-06-10", Times: DefaultTimeSlots}})
	assert.Error(t, err)

	_, err = f.IsSlotAvailable(context.Background(), inst, "2024-06-10", "AM")
	assert.Error(t, err)
}

func TestGenerateSlots(t *testing.T) {
	// Monday.
	now := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

	t.Run("Defaults", func(t *testing.T) {
		days := GenerateSlots(nil, now)
		require.NotEmpty(t, days)
		assert.Equal(t, "2024-06-03", days[0].Date)
		for _, d := range days {
			parsed, _ := time.Parse(domain.DateLayout, d.Date)
			assert.NotEqual(t, time.Saturday, parsed.Weekday())
			assert.NotEqual(t, time.Sunday, parsed.Weekday())
			assert.Equal(t, DefaultTimeSlots, d.Times)
		}
	})

	t.Run("Configured", func(t *testing.T) {
		cfg := &domain.SchedulingConfig{
			Enabled:     true,
			DaysAhead:   7,
			MinLeadDays: 2,
			Weekdays:    []int{int(time.Wednesday), int(time.Saturday)},
			TimeSlots:   []domain.TimeSlot{{Code: "EVE", Label: "Evening"}},
		}
		days := GenerateSlots(cfg, now)
		require.Len(t, days, 2)
		assert.Equal(t, "2024-06-05", days[0].Date)
		assert.Equal(t, "2024-06-08", days[1].Date)
		assert.Equal(t, "EVE", days[1].Times[0].Code)
	})
}

type recordMailer struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (m *recordMailer) SendWaitlistOpening(ctx context.Context, inst *domain.Instance, e *domain.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, e.Email)
	return nil
}

func TestWaitlist(t *testing.T) {
	repo := newTestRepo(t)
	mailer := &recordMailer{}
	b := bus.NewChannelBus(10)
	defer b.Close()

	wl := NewWaitlist(repo, mailer, b, nil)
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	wl.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	ctx := context.Background()

	inst := capInstance(&domain.CapacityConfig{Enabled: true, PerSlotCap: 1, WaitlistEnabled: true})

	t.Run("Disabled", func(t *testing.T) {
		_, err := wl.Join(ctx, capInstance(&domain.CapacityConfig{Enabled: true}), domain.WaitlistEntry{
			Email: "a@example.com", PreferredDate: "2024-06-10",
		})
		assert.ErrorIs(t, err, ErrWaitlistDisabled)
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := wl.Join(ctx, inst, domain.WaitlistEntry{Email: "not-an-email", PreferredDate: "2024-06-10"})
		assert.ErrorIs(t, err, repository.ErrInvalidInput)
		_, err = wl.Join(ctx, inst, domain.WaitlistEntry{Email: "a@example.com", PreferredDate: "06/10/2024"})
		assert.ErrorIs(t, err, repository.ErrInvalidInput)
	})

	t.Run("FirstComeFirstServed", func(t *testing.T) {
		first, err := wl.Join(ctx, inst, domain.WaitlistEntry{Name: "First", Email: "first@example.com", PreferredDate: "2024-06-10", PreferredTime: "AM"})
		require.NoError(t, err)
		assert.Equal(t, domain.WaitlistWaiting, first.Status)
		_, err = wl.Join(ctx, inst, domain.WaitlistEntry{Name: "Any", Email: "any@example.com", PreferredDate: "2024-06-10"})
		require.NoError(t, err)
		_, err = wl.Join(ctx, inst, domain.WaitlistEntry{Name: "PM", Email: "pm@example.com", PreferredDate: "2024-06-10", PreferredTime: "PM"})
		require.NoError(t, err)

		got, err := wl.NotifyNext(ctx, inst, "2024-06-10", "PM")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "any@example.com", got.Email, "entries without a time match any slot")
		assert.Equal(t, domain.WaitlistNotified, got.Status)
		assert.NotNil(t, got.NotifiedAt)

		got, _ = wl.NotifyNext(ctx, inst, "2024-06-10", "PM")
		assert.Equal(t, "pm@example.com", got.Email)

		got, _ = wl.NotifyNext(ctx, inst, "2024-06-10", "AM")
		assert.Equal(t, "first@example.com", got.Email)

		got, err = wl.NotifyNext(ctx, inst, "2024-06-10", "AM")
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.Equal(t, []string{"any@example.com", "pm@example.com", "first@example.com"}, mailer.sent)
	})

	t.Run("MailFailureLeavesEntryWaiting", func(t *testing.T) {
		_, err := wl.Join(ctx, inst, domain.WaitlistEntry{Email: "retry@example.com", PreferredDate: "2024-06-11"})
		require.NoError(t, err)

		mailer.fail = true
		_, err = wl.NotifyNext(ctx, inst, "2024-06-11", "")
		assert.Error(t, err)

		mailer.fail = false
		got, err := wl.NotifyNext(ctx, inst, "2024-06-11", "")
		require.NoError(t, err)
		assert.Equal(t, "retry@example.com", got.Email)
	})

	t.Run("ReleasePublishesSlotFreed", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		sub, err := b.Subscribe(ctx, domain.GlobalScope, domain.TopicSlotFreed, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, wl.Release(ctx, inst, &domain.Submission{ScheduleDate: "2024-06-10", ScheduleTime: "AM"}))

		select {
		case msg := <-received:
			assert.Equal(t, "inst-1", msg.Scope)
			assert.Contains(t, string(msg.Payload), `"date":"2024-06-10"`)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for slot freed event")
		}

		assert.NoError(t, wl.Release(ctx, capInstance(nil), &domain.Submission{ScheduleDate: "2024-06-10"}))
	})
}
