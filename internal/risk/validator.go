package risk

import (
	"errors"
	"math"

	"github.com/ksred/sdrflow/internal/types"
)

// ErrDegenerateStructure marks a structure with no legs. It violates the
// model invariant and is excluded from commentary; the cycle continues.
var ErrDegenerateStructure = errors.New("structure has no legs")

// Result is the risk assessment for one structure.
type Result struct {
	NetDV01       float64
	GrossDV01     float64
	IsRiskNeutral bool
	Legs          []types.Leg
}

// Validator computes per-leg and aggregate DV01 and checks net risk
// neutrality. The tolerance scales with gross DV01 so large structures are
// not falsely flagged.
type Validator struct {
	toleranceFraction float64
}

// NewValidator creates a validator with the given tolerance expressed as a
// fraction of gross DV01.
func NewValidator(toleranceFraction float64) *Validator {
	return &Validator{toleranceFraction: toleranceFraction}
}

// LegDV01 is the dollar value of a one basis point move for a single leg:
// notional * rate * tenor / 10000, signed by direction (pay negative,
// receive positive). Deterministic, no external curve.
func LegDV01(leg types.Leg) float64 {
	dv01 := math.Abs(leg.Notional) * leg.Rate * leg.TenorYrs / 10000
	if leg.Direction == types.DirectionPay {
		return -dv01
	}
	return dv01
}

// Validate fills in per-leg DV01s and returns the aggregate risk result.
// Outrights and residuals carry single-direction exposure and are never
// risk neutral; that is a valid answer, not a failure.
func (v *Validator) Validate(structure *types.StructuredTrade) (*Result, error) {
	legs, err := structure.DecodeLegs()
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, ErrDegenerateStructure
	}

	var net, gross float64
	for i := range legs {
		legs[i].DV01 = LegDV01(legs[i])
		net += legs[i].DV01
		gross += math.Abs(legs[i].DV01)
	}

	result := &Result{
		NetDV01:   round2(net),
		GrossDV01: round2(gross),
		Legs:      legs,
	}

	switch structure.StructureType {
	case types.StructureOutright, types.StructureResidual:
		result.IsRiskNeutral = false
	default:
		result.IsRiskNeutral = gross > 0 && math.Abs(net) <= v.toleranceFraction*gross
	}

	return result, nil
}

// Apply writes the result back onto the structure.
func (r *Result) Apply(structure *types.StructuredTrade) error {
	structure.NetDV01 = r.NetDV01
	structure.GrossDV01 = r.GrossDV01
	structure.IsRiskNeutral = r.IsRiskNeutral
	return structure.EncodeLegs(r.Legs)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
