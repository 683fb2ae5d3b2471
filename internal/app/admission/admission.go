// Package admission provides the filter chain that decides whether a
// submitted track may enter a user's request list.
package admission

import (
	"context"
	"time"

	"github.com/auxbox/auxbox/internal/domain/track"
)

// Submission represents a track submission to be validated.
type Submission struct {
	Username string
	TrackID  string
	TrackURI string
}

// Result represents the outcome of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "too_long", "already_queued", "on_cooldown"
	// AvailableAt is set for cooldown rejections: the instant at which the
	// track becomes submittable again.
	AvailableAt *time.Time
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// RejectUntil returns a rejected result carrying the retry instant.
func RejectUntil(code string, at time.Time) Result {
	return Result{Accepted: false, Code: code, AvailableAt: &at}
}

// Filter is the interface for submission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, sub Submission, t track.Track) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
