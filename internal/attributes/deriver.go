// Package attributes synthesizes tumor characteristics for a positive
// classification from a declarative policy and a random source. The values
// are illustrative, not a medical computation.
package attributes

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/example/tumor-report/internal/domain"
)

// Window policies for high-severity tumors.
const (
	WindowRandom        = "random"
	WindowSizeThreshold = "size_threshold"
)

// Fixed bounds every policy must stay within. A tumor is high severity
// exactly when its size exceeds HighSeverityAboveCM.
const (
	SizeFloorCM         = 0.5
	SizeCeilingCM       = 5.0
	HighSeverityAboveCM = 3.0
)

// Policy holds the tunable synthesis constants.
type Policy struct {
	MinSizeCM        float64 `toml:"min_size_cm"`
	MaxSizeCM        float64 `toml:"max_size_cm"`
	HighPrognosisMin int     `toml:"high_prognosis_min_years"`
	HighPrognosisMax int     `toml:"high_prognosis_max_years"`
	LowPrognosisMin  int     `toml:"low_prognosis_min_years"`
	LowPrognosisMax  int     `toml:"low_prognosis_max_years"`
	WindowPolicy     string  `toml:"window_policy" env:"WINDOW_POLICY"`
	UrgentAboveCM    float64 `toml:"urgent_above_cm"`
}

func DefaultPolicy() Policy {
	return Policy{
		MinSizeCM:        SizeFloorCM,
		MaxSizeCM:        SizeCeilingCM,
		HighPrognosisMin: 1,
		HighPrognosisMax: 5,
		LowPrognosisMin:  10,
		LowPrognosisMax:  30,
		WindowPolicy:     WindowRandom,
		UrgentAboveCM:    4.0,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.MinSizeCM < SizeFloorCM || p.MaxSizeCM > SizeCeilingCM || p.MaxSizeCM < p.MinSizeCM {
		errs = append(errs, fmt.Errorf("size range [%v, %v] is invalid, must lie within [%v, %v]",
			p.MinSizeCM, p.MaxSizeCM, SizeFloorCM, SizeCeilingCM))
	}
	if p.HighPrognosisMin < 1 || p.HighPrognosisMax < p.HighPrognosisMin {
		errs = append(errs, fmt.Errorf("high prognosis range [%d, %d] is invalid", p.HighPrognosisMin, p.HighPrognosisMax))
	}
	if p.LowPrognosisMin < 1 || p.LowPrognosisMax < p.LowPrognosisMin {
		errs = append(errs, fmt.Errorf("low prognosis range [%d, %d] is invalid", p.LowPrognosisMin, p.LowPrognosisMax))
	}
	if p.WindowPolicy != WindowRandom && p.WindowPolicy != WindowSizeThreshold {
		errs = append(errs, fmt.Errorf("unknown window policy %q", p.WindowPolicy))
	}
	return errors.Join(errs...)
}

type Deriver struct {
	policy Policy
	rng    RandomSource
	logger *zap.Logger
}

func NewDeriver(policy Policy, rng RandomSource, logger *zap.Logger) *Deriver {
	return &Deriver{policy: policy, rng: rng, logger: logger.Named("attributes")}
}

// Derive returns nil for a negative classification. For a positive one the
// draws are consumed in a fixed order: size, prognosis, then the window draw
// when the random policy applies to a high-severity tumor.
func (d *Deriver) Derive(result domain.ClassificationResult) *domain.TumorAttributes {
	if result.Label != domain.LabelTumor {
		return nil
	}
	p := d.policy

	size := p.MinSizeCM + d.rng.Float64()*(p.MaxSizeCM-p.MinSizeCM)
	size = math.Min(p.MaxSizeCM, math.Max(p.MinSizeCM, roundCM(size)))

	attrs := &domain.TumorAttributes{SizeCM: size, Severity: domain.SeverityLow}
	if size > HighSeverityAboveCM {
		attrs.Severity = domain.SeverityHigh
	}

	if attrs.Severity == domain.SeverityHigh {
		attrs.PrognosisYears = float64(p.HighPrognosisMin + d.rng.IntN(p.HighPrognosisMax-p.HighPrognosisMin+1))
		attrs.ActionWindow = d.highSeverityWindow(size)
	} else {
		attrs.PrognosisYears = float64(p.LowPrognosisMin + d.rng.IntN(p.LowPrognosisMax-p.LowPrognosisMin+1))
		attrs.ActionWindow = domain.WithinSixMonths
	}

	d.logger.Debug("attributes derived",
		zap.Float64("size_cm", attrs.SizeCM),
		zap.String("severity", string(attrs.Severity)),
		zap.Float64("prognosis_years", attrs.PrognosisYears),
		zap.String("action_window", string(attrs.ActionWindow)),
	)
	return attrs
}

func (d *Deriver) highSeverityWindow(size float64) domain.ActionWindow {
	if d.policy.WindowPolicy == WindowSizeThreshold {
		if size > d.policy.UrgentAboveCM {
			return domain.WithinOneMonth
		}
		return domain.WithinThreeMonths
	}
	if d.rng.Float64() < 0.5 {
		return domain.WithinOneMonth
	}
	return domain.WithinThreeMonths
}

func roundCM(v float64) float64 {
	return math.Round(v*100) / 100
}
