package admission

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/auxbox/auxbox/internal/domain/track"
)

// ContentPolicyConfig represents the configuration for ContentPolicyFilter.
type ContentPolicyConfig struct {
	// BlockExplicit rejects tracks flagged explicit by the catalog.
	BlockExplicit bool `yaml:"block_explicit" mapstructure:"block_explicit"`
	// BlockedArtists rejects tracks whose primary artist matches one of
	// these names (case-insensitive).
	BlockedArtists []string `yaml:"blocked_artists" mapstructure:"blocked_artists"`
}

// ContentPolicyFilter enforces house rules about what the shared player
// will accept.
type ContentPolicyFilter struct {
	config *ContentPolicyConfig
}

// NewContentPolicyFilter creates a new content policy filter.
func NewContentPolicyFilter() *ContentPolicyFilter {
	return &ContentPolicyFilter{}
}

func (f *ContentPolicyFilter) Name() string {
	return "content_policy_filter"
}

func (f *ContentPolicyFilter) Description() string {
	return "Rejects explicit tracks and blocked artists"
}

func (f *ContentPolicyFilter) ReturnCodes() []string {
	return []string{"filtered"}
}

func (f *ContentPolicyFilter) ValidateConfig(settings map[string]any) error {
	var config ContentPolicyConfig

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

	f.config = &config
	zlog.Info().Msgf("content policy filter config: %+v", config)
	return nil
}

func (f *ContentPolicyFilter) Check(_ context.Context, _ Submission, t track.Track) Result {
	if f.config == nil {
		return Accept()
	}

	if f.config.BlockExplicit && t.Explicit {
		return Reject("filtered")
	}

	primary := t.PrimaryArtist()
	for _, blocked := range f.config.BlockedArtists {
		if strings.EqualFold(blocked, primary) {
			return Reject("filtered")
		}
	}

	return Accept()
}

func init() {
	Register("content_policy_filter", func() Filter {
		return &ContentPolicyFilter{}
	})
}
