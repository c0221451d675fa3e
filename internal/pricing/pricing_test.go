package pricing

import (
	"testing"
	"time"

	plandomain "github.com/recurhq/recur/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func graduatedPlan() plandomain.Plan {
	ut := plandomain.UsageTypeGraduated
	return plandomain.Plan{
		Name:      "Metered API",
		Amount:    0,
		UsageType: &ut,
		Tiers: []plandomain.PlanTier{
			{UpTo: int64Ptr(1000), UnitAmount: 10},
			{UpTo: int64Ptr(10000), UnitAmount: 5},
			{UpTo: nil, UnitAmount: 2},
		},
	}
}

func TestBaseLine(t *testing.T) {
	plan := plandomain.Plan{Name: "Pro", Amount: 2000}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	line := BaseLine(plan, 3, start, end)
	assert.Equal(t, LineSubscription, line.Type)
	assert.Equal(t, int64(6000), line.Amount)
	assert.Equal(t, int64(3), line.Quantity)
	assert.Equal(t, "Pro (2025-01-01–2025-01-31)", line.Description)
}

func TestGraduatedChargeSpansBands(t *testing.T) {
	tiers := graduatedPlan().Tiers

	// 1000*10 + 6500*5
	assert.Equal(t, int64(42500), GraduatedCharge(7500, tiers))
	assert.Equal(t, int64(10000), GraduatedCharge(1000, tiers))
	assert.Equal(t, int64(10005), GraduatedCharge(1001, tiers))
	assert.Equal(t, int64(0), GraduatedCharge(0, tiers))
}

func TestGraduatedChargeUnsortedInput(t *testing.T) {
	tiers := []plandomain.PlanTier{
		{UpTo: nil, UnitAmount: 2},
		{UpTo: int64Ptr(10000), UnitAmount: 5},
		{UpTo: int64Ptr(1000), UnitAmount: 10},
	}
	assert.Equal(t, int64(42500), GraduatedCharge(7500, tiers))
}

func TestGraduatedChargeNoUnboundedBand(t *testing.T) {
	tiers := []plandomain.PlanTier{{UpTo: int64Ptr(1000), UnitAmount: 10}}
	assert.Equal(t, int64(10000), GraduatedCharge(1500, tiers))
}

func TestVolumeChargeSingleBand(t *testing.T) {
	tiers := graduatedPlan().Tiers

	assert.Equal(t, int64(5000), VolumeCharge(500, tiers))
	assert.Equal(t, int64(10000), VolumeCharge(1000, tiers))
	assert.Equal(t, int64(37500), VolumeCharge(7500, tiers))
	assert.Equal(t, int64(40000), VolumeCharge(20000, tiers))
}

func TestVolumeChargePastLastBoundedBand(t *testing.T) {
	tiers := []plandomain.PlanTier{{UpTo: int64Ptr(1000), UnitAmount: 10}}
	assert.Equal(t, int64(15000), VolumeCharge(1500, tiers))
}

func TestProrationMidCycle(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	changeAt := start.Add(15 * 24 * time.Hour)

	lines := Proration(ProrationInput{
		OldPlanName: "Basic",
		NewPlanName: "Pro",
		OldAmount:   1000,
		NewAmount:   2000,
		ChangeAt:    changeAt,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.Len(t, lines, 2)

	assert.Equal(t, LineProrationCredit, lines[0].Type)
	assert.Equal(t, int64(-500), lines[0].Amount)
	assert.Equal(t, LineProrationCharge, lines[1].Type)
	assert.Equal(t, int64(1000), lines[1].Amount)

	assert.Equal(t, int64(500), Subtotal(lines))
}

func TestProrationTruncatesTowardZero(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)
	changeAt := start.Add(15 * 24 * time.Hour)

	lines := Proration(ProrationInput{
		OldAmount:   999,
		NewAmount:   999,
		ChangeAt:    changeAt,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.Len(t, lines, 2)
	assert.Equal(t, int64(-499), lines[0].Amount)
	assert.Equal(t, int64(499), lines[1].Amount)
}

func TestProrationAtPeriodEdges(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	atStart := Proration(ProrationInput{OldAmount: 1000, NewAmount: 2000, ChangeAt: start, PeriodStart: start, PeriodEnd: end})
	require.Len(t, atStart, 2)
	assert.Equal(t, int64(-1000), atStart[0].Amount)
	assert.Equal(t, int64(2000), atStart[1].Amount)

	atEnd := Proration(ProrationInput{OldAmount: 1000, NewAmount: 2000, ChangeAt: end, PeriodStart: start, PeriodEnd: end})
	require.Len(t, atEnd, 2)
	assert.Equal(t, int64(0), atEnd[0].Amount)
	assert.Equal(t, int64(0), atEnd[1].Amount)
}

func TestCycleLinesOrder(t *testing.T) {
	plan := graduatedPlan()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(30 * 24 * time.Hour)

	lines := CycleLines(CycleInput{
		Plan:        plan,
		Quantity:    1,
		PeriodStart: start,
		PeriodEnd:   end,
		Usage: []UsageTotal{
			{Metric: "api_calls", Quantity: 7500},
			{Metric: "storage_gb", Quantity: 10},
		},
	})
	require.Len(t, lines, 3)
	assert.Equal(t, LineSubscription, lines[0].Type)
	assert.Equal(t, "api_calls", lines[1].Metric)
	assert.Equal(t, int64(42500), lines[1].Amount)
	assert.Equal(t, "storage_gb", lines[2].Metric)
	assert.Equal(t, int64(100), lines[2].Amount)
}

func TestCycleLinesFlatPlanIgnoresUsage(t *testing.T) {
	plan := plandomain.Plan{Name: "Pro", Amount: 2000}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	lines := CycleLines(CycleInput{
		Plan:        plan,
		Quantity:    1,
		PeriodStart: start,
		PeriodEnd:   start.Add(30 * 24 * time.Hour),
		Usage:       []UsageTotal{{Metric: "api_calls", Quantity: 100}},
	})
	require.Len(t, lines, 1)
	assert.Equal(t, LineSubscription, lines[0].Type)
}

func TestLateUsageMarginalCharge(t *testing.T) {
	plan := graduatedPlan()

	line := LateUsageLine(plan, "api_calls", 900, 200)
	assert.Equal(t, LineLateUsage, line.Type)
	assert.Equal(t, int64(200), line.Quantity)
	// full 1100 = 1000*10 + 100*5 = 10500; billed 900*10 = 9000
	assert.Equal(t, int64(1500), line.Amount)
}

func TestLateUsageVolumeCanCredit(t *testing.T) {
	ut := plandomain.UsageTypeVolume
	plan := plandomain.Plan{
		UsageType: &ut,
		Tiers: []plandomain.PlanTier{
			{UpTo: int64Ptr(1000), UnitAmount: 10},
			{UpTo: nil, UnitAmount: 5},
		},
	}

	// billed 900 at 10 = 9000; grand total 1100 at 5 = 5500
	line := LateUsageLine(plan, "api_calls", 900, 200)
	assert.Equal(t, int64(-3500), line.Amount)
}
