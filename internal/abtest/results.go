package abtest

import (
	"context"
	"math"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

// Significance heuristic thresholds.
const (
	MinSampleSize     = 100
	MinRelativeChange = 5.0
)

// GetResults reports every variation of the instance against its control.
//
// is_significant is a heuristic: both arms need MinSampleSize assignments and
// the relative change must reach MinRelativeChange percent. Confidence is a
// two-proportion z-test reported alongside and does not affect it.
func (a *Assigner) GetResults(ctx context.Context, inst *domain.Instance, goal string) (*domain.ExperimentResults, error) {
	counts, err := a.store.VariationCounts(ctx, inst.ID, goal)
	if err != nil {
		return nil, err
	}
	return Compute(inst, counts, a.now()), nil
}

// Compute builds results from raw tallies.
func Compute(inst *domain.Instance, counts []domain.VariationCounts, now time.Time) *domain.ExperimentResults {
	byID := make(map[string]domain.VariationCounts, len(counts))
	for _, c := range counts {
		byID[c.VariationID] = c
	}

	res := &domain.ExperimentResults{InstanceID: inst.ID, GeneratedAt: now.UTC()}
	control, ok := inst.Control()
	if !ok {
		return res
	}
	res.ControlID = control.ID

	for _, v := range inst.Variations {
		c := byID[v.ID]
		res.Variations = append(res.Variations, domain.VariationResult{
			VariationID:    v.ID,
			Name:           v.Name,
			IsControl:      v.ID == control.ID,
			Assignments:    c.Assignments,
			Conversions:    c.Conversions,
			ConversionRate: rate(c.Conversions, c.Assignments),
		})
	}

	var ctrl domain.VariationResult
	for _, r := range res.Variations {
		if r.IsControl {
			ctrl = r
		}
	}

	for i := range res.Variations {
		r := &res.Variations[i]
		if r.IsControl {
			continue
		}
		r.RelativeImprovement = relativeImprovement(r.ConversionRate, ctrl.ConversionRate)
		r.IsSignificant = r.Assignments >= MinSampleSize &&
			ctrl.Assignments >= MinSampleSize &&
			math.Abs(r.RelativeImprovement) >= MinRelativeChange
		r.IsWinner = r.IsSignificant && r.RelativeImprovement > 0
		r.Confidence = SignificanceTest(r.Conversions, r.Assignments, ctrl.Conversions, ctrl.Assignments)
	}

	return res
}

func rate(conversions, assignments int) float64 {
	if assignments == 0 {
		return 0
	}
	return float64(conversions) / float64(assignments) * 100
}

func relativeImprovement(rate, controlRate float64) float64 {
	if controlRate == 0 {
		if rate > 0 {
			return 100
		}
		return 0
	}
	return (rate - controlRate) / controlRate * 100
}

// SignificanceTest runs a two-proportion z-test and returns the confidence
// (0-1) that A converts better than B. Without data on both sides it is 0.5.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	if aViews == 0 || bViews == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)
	pooled := float64(aConv+bConv) / float64(aViews+bViews)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1
		case pA < pB:
			return 0
		}
		return 0.5
	}

	return normalCDF((pA - pB) / se)
}

// normalCDF is the standard normal CDF via math.Erf.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
