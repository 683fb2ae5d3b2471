package admission

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/domain/track"
)

// DurationLimitConfig represents the configuration for DurationLimitFilter.
type DurationLimitConfig struct {
	// MaxMinutes is the maximum allowed track duration. 0 means no limit.
	MaxMinutes float64 `yaml:"max_minutes" mapstructure:"max_minutes" default:"8" validate:"gte=0"`
}

// DurationLimitFilter rejects tracks longer than the configured limit so a
// single submission cannot monopolize the shared player.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a new duration limit filter.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Rejects tracks longer than the configured duration limit"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{"too_long"}
}

func (f *DurationLimitFilter) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig

	// Defaults first, then decode over them: an explicit max_minutes of 0
	// (no limit) must survive, so it cannot be filled in after the fact.
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	if settings == nil {
		settings = map[string]any{}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("duration limit filter config: %+v", config)
	return nil
}

func (f *DurationLimitFilter) Check(_ context.Context, _ Submission, t track.Track) Result {
	// If config is not set, accept all tracks
	if f.config == nil || f.config.MaxMinutes == 0 {
		return Accept()
	}

	if t.Duration.Minutes() > f.config.MaxMinutes {
		return Reject("too_long")
	}

	return Accept()
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return &DurationLimitFilter{}
	})
}
