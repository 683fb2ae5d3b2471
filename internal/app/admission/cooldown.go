package admission

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/domain/history"
	"github.com/auxbox/auxbox/internal/domain/track"
)

// CooldownConfig represents the configuration for CooldownFilter.
type CooldownConfig struct {
	Hours float64 `yaml:"hours" mapstructure:"hours" default:"12" validate:"gt=0"`
}

// PlayLookup finds the most recent play of a track strictly after the
// given instant.
type PlayLookup interface {
	RecentPlay(ctx context.Context, trackID string, since time.Time) (*history.Entry, error)
}

// CooldownFilter rejects tracks that played within the cooldown window.
// Rejections carry the instant the track becomes available again.
type CooldownFilter struct {
	lookup PlayLookup
	config *CooldownConfig
}

// NewCooldownFilter creates a new cooldown filter.
func NewCooldownFilter(lookup PlayLookup) *CooldownFilter {
	return &CooldownFilter{lookup: lookup}
}

func (f *CooldownFilter) Name() string {
	return "cooldown_filter"
}

func (f *CooldownFilter) Description() string {
	return "Rejects tracks played within the cooldown window"
}

func (f *CooldownFilter) ReturnCodes() []string {
	return []string{"on_cooldown"}
}

func (f *CooldownFilter) ValidateConfig(settings map[string]any) error {
	var config CooldownConfig

	// Defaults first so an explicit hours value, including an invalid zero,
	// reaches validation instead of being filled in afterwards.
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
	zlog.Info().Msgf("cooldown filter config: %+v", config)
	return nil
}

// Window returns the active cooldown duration.
func (f *CooldownFilter) Window() time.Duration {
	hours := 12.0
	if f.config != nil {
		hours = f.config.Hours
	}
	return time.Duration(hours * float64(time.Hour))
}

func (f *CooldownFilter) Check(ctx context.Context, _ Submission, t track.Track) Result {
	window := f.Window()
	now := time.Now()

	entry, err := f.lookup.RecentPlay(ctx, t.ID, now.Add(-window))
	if err != nil {
		zlog.Error().Msgf("cooldown lookup failed: %v", err)
		return Accept()
	}
	if entry == nil {
		return Accept()
	}

	return RejectUntil("on_cooldown", entry.ObservedAt.Add(window))
}
