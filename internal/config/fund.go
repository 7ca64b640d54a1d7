package config

import (
	"fmt"
	"os"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fund holds the accounting settings of the mutuelle.
type Fund struct {
	// InterestRatePercent is the flat loan interest, 3 for 3%.
	InterestRatePercent decimal.Decimal
	RegistrationFee     decimal.Decimal
	RoundingUnit        decimal.Decimal
	Tiers               []domain.CeilingTier
}

// InterestRate returns the rate as a fraction.
func (f *Fund) InterestRate() decimal.Decimal {
	return f.InterestRatePercent.Div(decimal.NewFromInt(100))
}

// Validate checks the fund settings. Tier tables are validated when the
// fund service loads them.
func (f *Fund) Validate() error {
	if f.InterestRatePercent.IsNegative() || f.InterestRatePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return &domain.ErrValidation{Field: "interest_rate_percent", Message: "must be in [0, 100)"}
	}
	if f.RegistrationFee.IsNegative() {
		return &domain.ErrValidation{Field: "registration_fee", Message: "must not be negative"}
	}
	if f.RoundingUnit.Sign() <= 0 {
		return &domain.ErrValidation{Field: "rounding_unit", Message: "must be positive"}
	}
	return nil
}

type fundFile struct {
	InterestRatePercent string     `yaml:"interest_rate_percent"`
	RegistrationFee     string     `yaml:"registration_fee"`
	RoundingUnit        string     `yaml:"rounding_unit"`
	Tiers               []tierFile `yaml:"ceiling_tiers"`
}

type tierFile struct {
	MinSavings string `yaml:"min_savings"`
	MaxSavings string `yaml:"max_savings"`
	Multiplier string `yaml:"multiplier"`
	Cap        string `yaml:"cap"`
}

func defaultFund() *Fund {
	return &Fund{
		InterestRatePercent: decimal.NewFromInt(3),
		RegistrationFee:     decimal.NewFromInt(25_000),
		RoundingUnit:        decimal.NewFromInt(25),
		Tiers:               domain.DefaultCeilingTiers(),
	}
}

// LoadFund reads fund settings from a YAML file. Missing keys keep their
// defaults; an empty path or a missing file yields the defaults.
func LoadFund(path string) (*Fund, error) {
	f := defaultFund()
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read fund config: %w", err)
	}

	var raw fundFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fund config: %w", err)
	}

	if err := setDecimal(&f.InterestRatePercent, "interest_rate_percent", raw.InterestRatePercent); err != nil {
		return nil, err
	}
	if err := setDecimal(&f.RegistrationFee, "registration_fee", raw.RegistrationFee); err != nil {
		return nil, err
	}
	if err := setDecimal(&f.RoundingUnit, "rounding_unit", raw.RoundingUnit); err != nil {
		return nil, err
	}

	if len(raw.Tiers) > 0 {
		tiers := make([]domain.CeilingTier, 0, len(raw.Tiers))
		for i, t := range raw.Tiers {
			tier, err := t.toDomain(i + 1)
			if err != nil {
				return nil, err
			}
			tiers = append(tiers, tier)
		}
		f.Tiers = tiers
	}
	return f, nil
}

func (t tierFile) toDomain(position int) (domain.CeilingTier, error) {
	field := func(name string) string { return fmt.Sprintf("ceiling_tiers[%d].%s", position, name) }

	tier := domain.CeilingTier{Position: position}
	var err error
	if tier.MinSavings, err = parseDecimal(field("min_savings"), t.MinSavings); err != nil {
		return tier, err
	}
	if tier.Multiplier, err = parseDecimal(field("multiplier"), t.Multiplier); err != nil {
		return tier, err
	}
	if t.MaxSavings != "" {
		v, err := parseDecimal(field("max_savings"), t.MaxSavings)
		if err != nil {
			return tier, err
		}
		tier.MaxSavings = &v
	}
	if t.Cap != "" {
		v, err := parseDecimal(field("cap"), t.Cap)
		if err != nil {
			return tier, err
		}
		tier.Cap = &v
	}
	return tier, nil
}

// applyEnv overrides file values with INTEREST_RATE_PERCENT,
// REGISTRATION_FEE and ROUNDING_UNIT.
func (f *Fund) applyEnv() error {
	if err := setDecimal(&f.InterestRatePercent, "INTEREST_RATE_PERCENT", os.Getenv("INTEREST_RATE_PERCENT")); err != nil {
		return err
	}
	if err := setDecimal(&f.RegistrationFee, "REGISTRATION_FEE", os.Getenv("REGISTRATION_FEE")); err != nil {
		return err
	}
	return setDecimal(&f.RoundingUnit, "ROUNDING_UNIT", os.Getenv("ROUNDING_UNIT"))
}

func setDecimal(dst *decimal.Decimal, field, raw string) error {
	if raw == "" {
		return nil
	}
	v, err := parseDecimal(field, raw)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &domain.ErrValidation{Field: field, Message: fmt.Sprintf("not a decimal: %q", raw)}
	}
	return v, nil
}
