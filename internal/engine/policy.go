package engine

import (
	"credit-engine/internal/config"
	"credit-engine/internal/domain/member"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Policy is the parsed credit policy every component reads its thresholds
// from.
type Policy struct {
	InsurancePremiumRate      decimal.Decimal
	NormalAnnualRate          decimal.Decimal
	PenaltyRateMultiplier     decimal.Decimal
	DailyMoraRate             decimal.Decimal
	GuaranteeFreezePercent    decimal.Decimal
	MaxGuaranteedPerGuarantor int
	WriteOffDays              int
	ReleaseThresholdPercent   decimal.Decimal
	RoundingTolerance         decimal.Decimal
	StageLimitMultipliers     map[member.Stage]decimal.Decimal
	GuaranteeRequiredStages   map[member.Stage]bool
	GuarantorStage            member.Stage
	CatastropheGrace          int
}

func NewPolicy(cfg config.CreditConfig) (Policy, error) {
	var p Policy
	var err error

	parse := func(name, value string, dst *decimal.Decimal) {
		if err != nil {
			return
		}
		var d decimal.Decimal
		d, err = decimal.NewFromString(value)
		if err != nil {
			err = fmt.Errorf("credit.%s: %w", name, err)
			return
		}
		if d.IsNegative() {
			err = fmt.Errorf("credit.%s must not be negative, got %s", name, value)
			return
		}
		*dst = d
	}
	parse("insurancePremiumRate", cfg.InsurancePremiumRate, &p.InsurancePremiumRate)
	parse("normalAnnualRate", cfg.NormalAnnualRate, &p.NormalAnnualRate)
	parse("penaltyRateMultiplier", cfg.PenaltyRateMultiplier, &p.PenaltyRateMultiplier)
	parse("dailyMoraRate", cfg.DailyMoraRate, &p.DailyMoraRate)
	parse("guaranteeFreezePercent", cfg.GuaranteeFreezePercent, &p.GuaranteeFreezePercent)
	parse("guaranteeReleaseThresholdPercent", cfg.GuaranteeReleaseThresholdPercent, &p.ReleaseThresholdPercent)
	parse("roundingTolerance", cfg.RoundingTolerance, &p.RoundingTolerance)
	if err != nil {
		return Policy{}, err
	}

	if cfg.WriteOffDays < 1 {
		return Policy{}, fmt.Errorf("credit.writeOffDays must be positive, got %d", cfg.WriteOffDays)
	}
	if cfg.MaxGuaranteedPerGuarantor < 1 {
		return Policy{}, fmt.Errorf("credit.maxGuaranteedPerGuarantor must be positive, got %d", cfg.MaxGuaranteedPerGuarantor)
	}
	p.WriteOffDays = cfg.WriteOffDays
	p.MaxGuaranteedPerGuarantor = cfg.MaxGuaranteedPerGuarantor
	p.CatastropheGrace = cfg.CatastropheGraceInstallments
	if p.CatastropheGrace < 1 {
		p.CatastropheGrace = 3
	}

	p.GuarantorStage = member.Stage(cfg.GuarantorStage)
	if !p.GuarantorStage.Valid() {
		return Policy{}, fmt.Errorf("credit.guarantorStage %d is not a valid stage", cfg.GuarantorStage)
	}

	p.StageLimitMultipliers = make(map[member.Stage]decimal.Decimal, len(cfg.StageLimitMultipliers))
	for key, value := range cfg.StageLimitMultipliers {
		n, convErr := strconv.Atoi(key)
		if convErr != nil || !member.Stage(n).Valid() {
			return Policy{}, fmt.Errorf("credit.stageLimitMultipliers: invalid stage %q", key)
		}
		var m decimal.Decimal
		parse("stageLimitMultipliers."+key, value, &m)
		if err != nil {
			return Policy{}, err
		}
		p.StageLimitMultipliers[member.Stage(n)] = m
	}

	p.GuaranteeRequiredStages = make(map[member.Stage]bool, len(cfg.GuaranteeRequiredStages))
	for _, s := range cfg.GuaranteeRequiredStages {
		p.GuaranteeRequiredStages[member.Stage(s)] = true
	}
	return p, nil
}

// DefaultPolicy is NewPolicy over config.DefaultCreditConfig.
func DefaultPolicy() Policy {
	p, err := NewPolicy(config.DefaultCreditConfig())
	if err != nil {
		panic(err)
	}
	return p
}

// CreditLimit is the stage multiplier times the member's available savings.
// A stage without a multiplier has no credit line.
func (p Policy) CreditLimit(m *member.Member) decimal.Decimal {
	multiplier, ok := p.StageLimitMultipliers[m.Stage]
	if !ok {
		return decimal.Zero
	}
	return m.Available().Mul(multiplier)
}

func (p Policy) RequiresGuarantees(stage member.Stage) bool {
	return p.GuaranteeRequiredStages[stage]
}

func (p Policy) PenaltyRate(normal decimal.Decimal) decimal.Decimal {
	return normal.Mul(p.PenaltyRateMultiplier)
}
