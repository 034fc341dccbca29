// Package specloader reads the declarative stream list of spec.md §6.4 from
// a YAML document and feeds it to the manifest store's reconciliation loop,
// following the teacher's pkg/config pattern of yaml.v3 decoding plus
// validator/v10 validation rather than hand-rolled field checks.
package specloader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

// document mirrors the on-disk shape: a flat list of stream declarations
// under a "streams" key.
type document struct {
	Streams []entry `yaml:"streams"`
}

// entry is the YAML record for one AssetSpec; Range is split into the two
// scalar fields a human author writes rather than model.Range's internal
// pointer shape.
type entry struct {
	Symbol     string  `yaml:"symbol" validate:"required"`
	Provider   string  `yaml:"provider" validate:"required"`
	AssetClass string  `yaml:"asset_class" validate:"required"`
	Timeframe  string  `yaml:"timeframe" validate:"required"`
	Start      time.Time `yaml:"start" validate:"required"`
	End        *time.Time `yaml:"end"`
}

var validate = validator.New()

// Load parses path into []model.AssetSpec, validating both the YAML shape
// (validator/v10) and the domain invariants (model.AssetSpec.Validate, e.g.
// timeframe amount restricted to its unit's domain).
func Load(path string) ([]model.AssetSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("specloader: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("specloader: parse %s: %w", path, err)
	}

	specs := make([]model.AssetSpec, 0, len(doc.Streams))
	for i, e := range doc.Streams {
		if err := validate.Struct(e); err != nil {
			return nil, errs.NewConfiguration("specloader: entry %d: %v", i, err)
		}
		tf, err := parseTimeframe(e.Timeframe)
		if err != nil {
			return nil, errs.NewConfiguration("specloader: entry %d: %v", i, err)
		}
		spec := model.AssetSpec{
			Symbol:     e.Symbol,
			Provider:   model.ProviderID(e.Provider),
			AssetClass: model.AssetClass(e.AssetClass),
			Timeframe:  tf,
			Range:      model.Range{Start: e.Start.UTC(), End: utcPtr(e.End)},
		}
		if err := spec.Validate(); err != nil {
			return nil, errs.NewConfiguration("specloader: entry %d: %v", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Apply loads path and reconciles it against store in one call, returning
// the diff for the caller to log (spec.md §4.1 upsert_spec, §6.4).
func Apply(ctx context.Context, store repository.ManifestStore, path string) (model.SpecDiff, error) {
	specs, err := Load(path)
	if err != nil {
		return model.SpecDiff{}, err
	}
	return store.UpsertSpec(ctx, specs)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// parseTimeframe accepts the short forms model.Timeframe.String emits
// ("5m", "1h", "1D", "1W", "6M") so the YAML file round-trips with what gets
// logged.
func parseTimeframe(s string) (model.Timeframe, error) {
	if s == "" {
		return model.Timeframe{}, fmt.Errorf("empty timeframe")
	}
	amountDigits := 0
	for amountDigits < len(s) && s[amountDigits] >= '0' && s[amountDigits] <= '9' {
		amountDigits++
	}
	if amountDigits == 0 || amountDigits == len(s) {
		return model.Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
	}
	var amount int
	if _, err := fmt.Sscanf(s[:amountDigits], "%d", &amount); err != nil {
		return model.Timeframe{}, fmt.Errorf("invalid timeframe %q: %w", s, err)
	}
	unitCode := s[amountDigits:]
	var unit model.TimeframeUnit
	switch unitCode {
	case "m":
		unit = model.Minute
	case "h":
		unit = model.Hour
	case "D":
		unit = model.Day
	case "W":
		unit = model.Week
	case "M":
		unit = model.Month
	default:
		return model.Timeframe{}, fmt.Errorf("unknown timeframe unit %q in %q", unitCode, s)
	}
	tf := model.Timeframe{Amount: amount, Unit: unit}
	return tf, tf.Validate()
}
