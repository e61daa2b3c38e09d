package abtest

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formflow/formflow/internal/domain"
	"github.com/formflow/formflow/internal/session"
)

type memStore struct {
	mu          sync.Mutex
	assignments []domain.Assignment
	conversions map[string]domain.Conversion
	failSave    bool
}

func newMemStore() *memStore {
	return &memStore{conversions: make(map[string]domain.Conversion)}
}

func (m *memStore) SaveAssignment(ctx context.Context, a *domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("db down")
	}
	m.assignments = append(m.assignments, *a)
	return nil
}

func (m *memStore) SaveConversion(ctx context.Context, c *domain.Conversion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.InstanceID + "|" + c.SessionID + "|" + c.Goal
	if _, ok := m.conversions[key]; ok {
		return false, nil
	}
	m.conversions[key] = *c
	return true, nil
}

func (m *memStore) VariationCounts(ctx context.Context, instanceID string, goal string) ([]domain.VariationCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]*domain.VariationCounts{}
	for _, a := range m.assignments {
		if counts[a.VariationID] == nil {
			counts[a.VariationID] = &domain.VariationCounts{VariationID: a.VariationID}
		}
		counts[a.VariationID].Assignments++
	}
	for _, c := range m.conversions {
		if counts[c.VariationID] != nil && (goal == "" || c.Goal == goal) {
			counts[c.VariationID].Conversions++
		}
	}
	var out []domain.VariationCounts
	for _, c := range counts {
		out = append(out, *c)
	}
	return out, nil
}

func testInstance(trackBy string) *domain.Instance {
	return &domain.Instance{
		ID: "inst-ab",
		Settings: domain.Settings{
			ABTesting: &domain.ABTestConfig{Enabled: true, TrackBy: trackBy},
		},
		Variations: []domain.Variation{
			{ID: "control", Name: "Control", Weight: 50, IsControl: true},
			{ID: "bold", Name: "Bold heading", Weight: 50, Modifications: domain.Modifications{Heading: "Save now"}},
		},
	}
}

func TestPickConvergesToWeights(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	variations := []domain.Variation{{ID: "a", Weight: 50}, {ID: "b", Weight: 50}}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		v, err := Pick(variations, r.IntN)
		require.NoError(t, err)
		counts[v.ID]++
	}

	assert.InDelta(t, 5000, counts["a"], 250)
	assert.InDelta(t, 5000, counts["b"], 250)
}

func TestPickUnevenWeights(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 7))
	variations := []domain.Variation{{ID: "a", Weight: 1}, {ID: "b", Weight: 3}}

	counts := map[string]int{}
	for i := 0; i < 20000; i++ {
		v, _ := Pick(variations, r.IntN)
		counts[v.ID]++
	}

	assert.InDelta(t, 0.25, float64(counts["a"])/20000, 0.02)
}

func TestPickBoundaries(t *testing.T) {
	variations := []domain.Variation{{ID: "a", Weight: 2}, {ID: "b", Weight: 3}}

	// draw = intN(total)+1, so intN returning 0 draws 1 and total-1 draws total
	v, _ := Pick(variations, func(int) int { return 0 })
	assert.Equal(t, "a", v.ID)
	v, _ = Pick(variations, func(int) int { return 1 })
	assert.Equal(t, "a", v.ID, "cumulative weight equal to the draw wins")
	v, _ = Pick(variations, func(int) int { return 2 })
	assert.Equal(t, "b", v.ID)
	v, _ = Pick(variations, func(n int) int { return n - 1 })
	assert.Equal(t, "b", v.ID)

	v, err := Pick([]domain.Variation{{ID: "z", Weight: 0}, {ID: "y", Weight: 0}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "z", v.ID)

	_, err = Pick(nil, nil)
	assert.ErrorIs(t, err, ErrNoVariations)
}

func TestGetVariationIsSticky(t *testing.T) {
	store := newMemStore()
	a := NewAssigner(session.NewStore(time.Hour), store, nil)
	inst := testInstance("session")
	ctx := context.Background()
	visitor := Visitor{SessionID: "sess-1", IP: "203.0.113.1", UserAgent: "Mozilla/5.0"}

	first, isNew, err := a.GetVariation(ctx, inst, visitor)
	require.NoError(t, err)
	assert.True(t, isNew)

	for i := 0; i < 20; i++ {
		again, isNew, err := a.GetVariation(ctx, inst, visitor)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, first.ID, again.ID)
	}

	require.Len(t, store.assignments, 1, "only the first exposure is logged")
	assert.Equal(t, "203.0.113.1", store.assignments[0].IP)
	assert.Equal(t, "Mozilla/5.0", store.assignments[0].UserAgent)
}

func TestGetVariationReassignsRemoved(t *testing.T) {
	sessions := session.NewStore(time.Hour)
	a := NewAssigner(sessions, newMemStore(), nil)
	inst := testInstance("session")
	sessions.Set("sess-1", SessionKey(inst.ID), "deleted-arm")

	v, isNew, err := a.GetVariation(context.Background(), inst, Visitor{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Contains(t, []string{"control", "bold"}, v.ID)
}

func TestGetVariationFromCookie(t *testing.T) {
	store := newMemStore()
	a := NewAssigner(session.NewStore(time.Hour), store, nil)
	ctx := context.Background()

	inst := testInstance("cookie")
	v, isNew, err := a.GetVariation(ctx, inst, Visitor{SessionID: "new-session", Cookie: "bold"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "bold", v.ID)
	require.Len(t, store.assignments, 1, "a session restored from the cookie is a new assignment")
	assert.Equal(t, "new-session", store.assignments[0].SessionID)
	assert.Equal(t, "bold", store.assignments[0].VariationID)

	_, _, err = a.GetVariation(ctx, inst, Visitor{SessionID: "new-session", Cookie: "bold"})
	require.NoError(t, err)
	assert.Len(t, store.assignments, 1, "a bound session is logged once")
	store.assignments = nil

	inst = testInstance("session")
	a.intN = func(int) int { return 0 }
	v, isNew, err = a.GetVariation(ctx, inst, Visitor{SessionID: "other-session", Cookie: "bold"})
	require.NoError(t, err)
	assert.True(t, isNew, "cookie is ignored when tracking by session")
	assert.Equal(t, "control", v.ID)
}

func TestReturningVisitorsKeepRatesBounded(t *testing.T) {
	store := newMemStore()
	a := NewAssigner(session.NewStore(time.Hour), store, nil)
	ctx := context.Background()
	inst := testInstance("cookie")

	for _, sid := range []string{"s1", "s2", "s3"} {
		_, _, err := a.GetVariation(ctx, inst, Visitor{SessionID: sid, Cookie: "control"})
		require.NoError(t, err)
		_, err = a.RecordConversion(ctx, inst, sid, domain.GoalSubmission)
		require.NoError(t, err)
	}

	counts, err := store.VariationCounts(ctx, inst.ID, domain.GoalSubmission)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "control", counts[0].VariationID)
	assert.EqualValues(t, 3, counts[0].Assignments)
	assert.EqualValues(t, 3, counts[0].Conversions)
}

func TestGetVariationSurvivesLogFailure(t *testing.T) {
	store := newMemStore()
	store.failSave = true
	a := NewAssigner(session.NewStore(time.Hour), store, nil)

	_, _, err := a.GetVariation(context.Background(), testInstance("session"), Visitor{SessionID: "s"})
	assert.NoError(t, err)
}

func TestGetVariationNoVariations(t *testing.T) {
	a := NewAssigner(session.NewStore(time.Hour), newMemStore(), nil)
	_, _, err := a.GetVariation(context.Background(), &domain.Instance{ID: "x"}, Visitor{SessionID: "s"})
	assert.ErrorIs(t, err, ErrNoVariations)
}

func TestRecordConversion(t *testing.T) {
	store := newMemStore()
	a := NewAssigner(session.NewStore(time.Hour), store, nil)
	inst := testInstance("session")
	ctx := context.Background()

	_, err := a.RecordConversion(ctx, inst, "sess-1", "")
	assert.ErrorIs(t, err, ErrNotAssigned)

	v, _, _ := a.GetVariation(ctx, inst, Visitor{SessionID: "sess-1"})

	ok, err := a.RecordConversion(ctx, inst, "sess-1", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.RecordConversion(ctx, inst, "sess-1", domain.GoalSubmission)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate goal is ignored")

	for _, c := range store.conversions {
		assert.Equal(t, v.ID, c.VariationID)
	}
}

func TestValidateVariations(t *testing.T) {
	assert.NoError(t, ValidateVariations(nil))
	assert.NoError(t, ValidateVariations(testInstance("session").Variations))
	assert.NoError(t, ValidateVariations([]domain.Variation{{ID: "a", Weight: 1}, {ID: "b"}}), "no control is allowed")

	tests := []struct {
		name       string
		variations []domain.Variation
	}{
		{"DuplicateID", []domain.Variation{{ID: "a", Weight: 1}, {ID: "a", Weight: 1}}},
		{"EmptyID", []domain.Variation{{Weight: 1}}},
		{"TwoControls", []domain.Variation{{ID: "a", Weight: 1, IsControl: true}, {ID: "b", Weight: 1, IsControl: true}}},
		{"ZeroWeight", []domain.Variation{{ID: "a"}, {ID: "b"}}},
		{"NegativeWeight", []domain.Variation{{ID: "a", Weight: 5}, {ID: "b", Weight: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateVariations(tt.variations), ErrInvalidVariations)
		})
	}
}

func TestCookie(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := Cookie("inst-ab", "bold", now)
	assert.Equal(t, "ff_ab_inst-ab", c.Name)
	assert.Equal(t, "bold", c.Value)
	assert.Equal(t, now.Add(30*24*time.Hour), c.Expires)
}

func TestComputeResults(t *testing.T) {
	inst := testInstance("session")
	now := time.Now()

	t.Run("SignificantWinner", func(t *testing.T) {
		res := Compute(inst, []domain.VariationCounts{
			{VariationID: "control", Assignments: 200, Conversions: 20},
			{VariationID: "bold", Assignments: 200, Conversions: 30},
		}, now)

		require.Len(t, res.Variations, 2)
		assert.Equal(t, "control", res.ControlID)

		ctrl, bold := res.Variations[0], res.Variations[1]
		assert.True(t, ctrl.IsControl)
		assert.InDelta(t, 10.0, ctrl.ConversionRate, 1e-9)
		assert.InDelta(t, 15.0, bold.ConversionRate, 1e-9)
		assert.InDelta(t, 50.0, bold.RelativeImprovement, 1e-9)
		assert.True(t, bold.IsSignificant)
		assert.True(t, bold.IsWinner)
		assert.Greater(t, bold.Confidence, 0.9)
	})

	t.Run("TooFewAssignments", func(t *testing.T) {
		res := Compute(inst, []domain.VariationCounts{
			{VariationID: "control", Assignments: 99, Conversions: 10},
			{VariationID: "bold", Assignments: 500, Conversions: 100},
		}, now)
		assert.False(t, res.Variations[1].IsSignificant)
		assert.False(t, res.Variations[1].IsWinner)
	})

	t.Run("SignificantLoser", func(t *testing.T) {
		res := Compute(inst, []domain.VariationCounts{
			{VariationID: "control", Assignments: 100, Conversions: 20},
			{VariationID: "bold", Assignments: 100, Conversions: 10},
		}, now)
		assert.InDelta(t, -50.0, res.Variations[1].RelativeImprovement, 1e-9)
		assert.True(t, res.Variations[1].IsSignificant)
		assert.False(t, res.Variations[1].IsWinner)
	})

	t.Run("ZeroControlRate", func(t *testing.T) {
		res := Compute(inst, []domain.VariationCounts{
			{VariationID: "control", Assignments: 10},
			{VariationID: "bold", Assignments: 10, Conversions: 1},
		}, now)
		assert.Equal(t, 100.0, res.Variations[1].RelativeImprovement)

		res = Compute(inst, []domain.VariationCounts{
			{VariationID: "control", Assignments: 10},
		}, now)
		assert.Equal(t, 0.0, res.Variations[1].RelativeImprovement)
		assert.Equal(t, 0.0, res.Variations[1].ConversionRate, "no assignments is a zero rate")
	})

	t.Run("FirstIsControlWhenUnflagged", func(t *testing.T) {
		unflagged := &domain.Instance{ID: "i", Variations: []domain.Variation{{ID: "x"}, {ID: "y"}}}
		res := Compute(unflagged, nil, now)
		assert.Equal(t, "x", res.ControlID)
		assert.True(t, res.Variations[0].IsControl)
	})
}

func TestGetResults(t *testing.T) {
	store := newMemStore()
	a := NewAssigner(session.NewStore(time.Hour), store, nil)
	inst := testInstance("session")
	ctx := context.Background()

	for _, sid := range []string{"s1", "s2", "s3", "s4"} {
		_, _, _ = a.GetVariation(ctx, inst, Visitor{SessionID: sid})
	}
	_, _ = a.RecordConversion(ctx, inst, "s1", "")

	res, err := a.GetResults(ctx, inst, domain.GoalSubmission)
	require.NoError(t, err)

	total, conversions := 0, 0
	for _, v := range res.Variations {
		total += v.Assignments
		conversions += v.Conversions
	}
	assert.Equal(t, 4, total)
	assert.Equal(t, 1, conversions)
}

func TestSignificanceTest(t *testing.T) {
	assert.Equal(t, 0.5, SignificanceTest(0, 0, 0, 0))
	assert.Equal(t, 0.5, SignificanceTest(5, 10, 0, 0))
	assert.InDelta(t, 1.0, SignificanceTest(10, 10, 0, 10), 1e-4)
	assert.InDelta(t, 0.5, SignificanceTest(10, 100, 10, 100), 1e-9)

	c := SignificanceTest(60, 100, 40, 100)
	assert.Greater(t, c, 0.99)
	assert.InDelta(t, 1-c, SignificanceTest(40, 100, 60, 100), 1e-9)
	assert.False(t, math.IsNaN(c))
}
