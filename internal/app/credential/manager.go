// Package credential manages the shared access/refresh token pair for the
// remote playback API.
package credential

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/auxbox/auxbox/internal/infra/store"
)

// ErrNotAuthorized is returned while no credential exists; an operator must
// complete the authorization-code flow first.
var ErrNotAuthorized = errors.New("not authorized: complete the login flow first")

// Spotify account service endpoints.
const (
	defaultAuthURL  = "https://accounts.spotify.com/authorize"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
)

// Scopes required for device control.
var scopes = []string{
	"user-read-currently-playing",
	"user-read-recently-played",
	"user-modify-playback-state",
	"user-read-playback-state",
}

// Config represents credential manager configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Margin       time.Duration // Remaining validity below which a refresh is forced

	// Endpoint overrides for tests; defaults to the Spotify account service.
	AuthURL  string
	TokenURL string
}

// Manager owns the singleton credential. It implements oauth2.TokenSource:
// Token returns an access token valid for at least the refresh margin,
// refreshing and persisting synchronously when needed. Refreshes are
// serialized; a failed refresh leaves the stored pair untouched.
type Manager struct {
	mu     sync.Mutex
	store  *store.Store
	conf   *oauth2.Config
	margin time.Duration
	token  *oauth2.Token
}

// New creates a manager and loads any previously stored credential.
func New(ctx context.Context, st *store.Store, cfg Config) (*Manager, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify client credentials are required")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 5 * time.Minute
	}

	m := &Manager{
		store: st,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		margin: cfg.Margin,
	}

	cred, err := st.GetCredential(ctx)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		m.token = credToToken(cred)
		zlog.Info().Msgf("loaded credential from store: expires_at=%v", cred.ExpiresAt)
	} else {
		zlog.Warn().Msg("no stored credential; authorization required")
	}

	return m, nil
}

// Token returns a valid access token, refreshing it first when the
// remaining validity falls under the safety margin.
// Implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return nil, ErrNotAuthorized
	}

	if time.Until(m.token.Expiry) > m.margin {
		t := *m.token
		return &t, nil
	}

	if err := m.refreshLocked(); err != nil {
		return nil, err
	}
	t := *m.token
	return &t, nil
}

// Authorized reports whether a credential is present.
func (m *Manager) Authorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil
}

// AuthURL returns the authorization URL the operator must visit.
func (m *Manager) AuthURL(state string) string {
	return m.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair and persists it.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	tok, err := m.conf.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "failed to exchange authorization code")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(tok); err != nil {
		return err
	}
	zlog.Info().Msgf("authorization complete: expires_at=%v", tok.Expiry)
	return nil
}

// refreshLocked performs a serialized refresh exchange and persists the
// result. The stored pair is only replaced after a successful exchange.
func (m *Manager) refreshLocked() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	src := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: m.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		zlog.Error().Msgf("credential refresh failed: %v", err)
		return errors.Wrap(err, "failed to refresh credential")
	}

	// The refresh response may omit the refresh token; keep the old one.
	if tok.RefreshToken == "" {
		tok.RefreshToken = m.token.RefreshToken
	}

	if err := m.persistLocked(tok); err != nil {
		return err
	}
	zlog.Info().Msgf("credential refreshed: expires_at=%v", tok.Expiry)
	return nil
}

func (m *Manager) persistLocked(tok *oauth2.Token) error {
	cred := &store.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		UpdatedAt:    time.Now(),
	}
	if err := m.store.SaveCredential(context.Background(), cred); err != nil {
		return err
	}
	m.token = tok
	return nil
}

// Purge discards the credential from memory and the store. The next API
// call fails with ErrNotAuthorized until the login flow runs again.
func (m *Manager) Purge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.PurgeCredential(ctx); err != nil {
		return err
	}
	m.token = nil
	zlog.Info().Msg("credential purged")
	return nil
}

// NewState generates an opaque state parameter for the authorization flow.
func NewState() string {
	return "auxbox-" + uuid.New().String()
}

func credToToken(c *store.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
		TokenType:    "Bearer",
	}
}
