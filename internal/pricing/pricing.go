// Package pricing turns a (plan, quantity, usage, period) tuple into an
// ordered list of signed invoice lines. Everything here is pure;
// persistence, tax, and credits belong to the invoice assembler.
package pricing

import (
	"fmt"
	"sort"
	"time"

	plandomain "github.com/recurhq/recur/internal/plan/domain"
)

type LineType string

const (
	LineSubscription    LineType = "subscription"
	LineUsage           LineType = "usage"
	LineProrationCredit LineType = "proration_credit"
	LineProrationCharge LineType = "proration_charge"
	LineLateUsage       LineType = "late_usage"
)

// Line is one priced entry. Amount is in minor units and signed;
// proration credits carry a negative amount.
type Line struct {
	Type        LineType `json:"type"`
	Description string   `json:"description"`
	Quantity    int64    `json:"quantity"`
	Amount      int64    `json:"amount"`
	Metric      string   `json:"metric,omitempty"`
}

type UsageTotal struct {
	Metric   string
	Quantity int64
}

type CycleInput struct {
	Plan        plandomain.Plan
	Quantity    int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Usage       []UsageTotal
}

// CycleLines prices one billing period: the flat base line first, then
// one usage line per metric in the order the aggregates were given.
func CycleLines(in CycleInput) []Line {
	lines := []Line{BaseLine(in.Plan, in.Quantity, in.PeriodStart, in.PeriodEnd)}
	if !in.Plan.Metered() {
		return lines
	}
	for _, usage := range in.Usage {
		lines = append(lines, UsageLine(in.Plan, usage))
	}
	return lines
}

func BaseLine(plan plandomain.Plan, quantity int64, periodStart, periodEnd time.Time) Line {
	return Line{
		Type: LineSubscription,
		Description: fmt.Sprintf("%s (%s–%s)",
			plan.Name,
			periodStart.UTC().Format("2006-01-02"),
			periodEnd.UTC().Format("2006-01-02"),
		),
		Quantity: quantity,
		Amount:   plan.Amount * quantity,
	}
}

func UsageLine(plan plandomain.Plan, usage UsageTotal) Line {
	return Line{
		Type:        LineUsage,
		Description: fmt.Sprintf("%s usage", usage.Metric),
		Quantity:    usage.Quantity,
		Amount:      usageCharge(plan, usage.Quantity),
		Metric:      usage.Metric,
	}
}

// LateUsageLine prices units that arrived after the period closed. The
// charge is the marginal difference over what was already billed, so
// the period's combined total equals what it would have cost had the
// usage been known at close time. With volume tiers the marginal can be
// negative when the grand total lands in a cheaper band.
func LateUsageLine(plan plandomain.Plan, metric string, billedQuantity, lateQuantity int64) Line {
	amount := usageCharge(plan, billedQuantity+lateQuantity) - usageCharge(plan, billedQuantity)
	return Line{
		Type:        LineLateUsage,
		Description: fmt.Sprintf("%s late usage", metric),
		Quantity:    lateQuantity,
		Amount:      amount,
		Metric:      metric,
	}
}

func usageCharge(plan plandomain.Plan, total int64) int64 {
	if plan.UsageType == nil {
		return 0
	}
	if *plan.UsageType == plandomain.UsageTypeVolume {
		return VolumeCharge(total, plan.Tiers)
	}
	return GraduatedCharge(total, plan.Tiers)
}

// GraduatedCharge prices each unit at the rate of the band it falls in.
// Upper bounds are inclusive; a nil bound means unbounded. Units beyond
// the last bounded band of a plan without an unbounded tier go uncharged.
func GraduatedCharge(total int64, tiers []plandomain.PlanTier) int64 {
	if total <= 0 || len(tiers) == 0 {
		return 0
	}

	var charge int64
	remaining := total
	var prev int64
	for _, tier := range sortTiers(tiers) {
		take := remaining
		if tier.UpTo != nil {
			if band := *tier.UpTo - prev; band < take {
				take = band
			}
			prev = *tier.UpTo
		}
		if take < 0 {
			take = 0
		}
		charge += take * tier.UnitAmount
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	return charge
}

// VolumeCharge prices every unit at the rate of the single band the
// total lands in. A total past the last bounded band uses that band's
// rate.
func VolumeCharge(total int64, tiers []plandomain.PlanTier) int64 {
	if total <= 0 || len(tiers) == 0 {
		return 0
	}

	sorted := sortTiers(tiers)
	for _, tier := range sorted {
		if tier.UpTo == nil || total <= *tier.UpTo {
			return total * tier.UnitAmount
		}
	}
	return total * sorted[len(sorted)-1].UnitAmount
}

type ProrationInput struct {
	OldPlanName string
	NewPlanName string
	// OldAmount and NewAmount are the full-period base charges
	// (plan amount times quantity) before and after the change.
	OldAmount   int64
	NewAmount   int64
	ChangeAt    time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Proration emits a credit for the unused remainder of the old price
// and a charge for the same remainder at the new one. Both truncate
// toward zero.
func Proration(in ProrationInput) []Line {
	total := int64(in.PeriodEnd.Sub(in.PeriodStart) / time.Second)
	if total <= 0 {
		return nil
	}
	left := int64(in.PeriodEnd.Sub(in.ChangeAt) / time.Second)
	if left < 0 {
		left = 0
	}
	if left > total {
		left = total
	}

	credit := in.OldAmount * left / total
	charge := in.NewAmount * left / total
	return []Line{
		{
			Type:        LineProrationCredit,
			Description: fmt.Sprintf("Unused time on %s", in.OldPlanName),
			Quantity:    1,
			Amount:      -credit,
		},
		{
			Type:        LineProrationCharge,
			Description: fmt.Sprintf("Remaining time on %s", in.NewPlanName),
			Quantity:    1,
			Amount:      charge,
		},
	}
}

// Subtotal sums signed line amounts.
func Subtotal(lines []Line) int64 {
	var total int64
	for _, line := range lines {
		total += line.Amount
	}
	return total
}

func sortTiers(tiers []plandomain.PlanTier) []plandomain.PlanTier {
	sorted := make([]plandomain.PlanTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].UpTo, sorted[j].UpTo
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})
	return sorted
}
