package service

import (
	"math"

	"sana/internal/config"
)

// Fee is an external fee attached to a booking. Only practitioner-responsible
// fees reduce net earnings; platform-responsible ones do not.
type Fee struct {
	Label                   string
	AmountCents             int64
	PractitionerResponsible bool
}

// EarningsBreakdown is the result of a commission calculation.
type EarningsBreakdown struct {
	GrossCents      int64
	Rate            float64
	CommissionCents int64
	FeeCents        int64
	NetCents        int64
}

// CommissionPlan resolves commission rates from configuration. Pure data, no
// side effects: the same inputs always produce the same breakdown.
type CommissionPlan struct {
	baseRates map[string]float64
	tiers     map[string]map[string]float64
}

func NewCommissionPlan(cfg config.CommissionConfig) *CommissionPlan {
	p := &CommissionPlan{
		baseRates: make(map[string]float64),
		tiers:     make(map[string]map[string]float64),
	}
	for _, r := range cfg.BaseRates {
		p.baseRates[r.ServiceType] = r.Rate
	}
	for _, t := range cfg.Tiers {
		if p.tiers[t.Tier] == nil {
			p.tiers[t.Tier] = make(map[string]float64)
		}
		p.tiers[t.Tier][t.ServiceType] = t.Adjustment
	}
	return p
}

// Rate returns base_rate(service_type) + tier_adjustment(tier, service_type),
// clamped to [0, 100]. An empty tier (no active subscription) or a tier with
// no adjustment for the service type falls back to the base rate alone.
func (p *CommissionPlan) Rate(serviceType, tier string) float64 {
	rate := p.baseRates[serviceType]
	if tier != "" {
		if adjustments, ok := p.tiers[tier]; ok {
			if adj, ok := adjustments[serviceType]; ok {
				rate += adj
			}
		}
	}
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// Calculate produces the earnings breakdown for one completed booking.
// net = gross - commission - sum(practitioner-responsible fees).
func (p *CommissionPlan) Calculate(serviceType, tier string, grossCents int64, fees []Fee) EarningsBreakdown {
	rate := p.Rate(serviceType, tier)
	commission := int64(math.Round(float64(grossCents) * rate / 100))

	var feeTotal int64
	for _, f := range fees {
		if f.PractitionerResponsible {
			feeTotal += f.AmountCents
		}
	}

	return EarningsBreakdown{
		GrossCents:      grossCents,
		Rate:            rate,
		CommissionCents: commission,
		FeeCents:        feeTotal,
		NetCents:        grossCents - commission - feeTotal,
	}
}
