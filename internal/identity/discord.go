package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pmrp.org/internal/ids"
)

const (
	defaultAuthorizeURL = "https://discord.com/oauth2/authorize"
	defaultTokenURL     = "https://discord.com/api/oauth2/token"
	defaultAPIBaseURL   = "https://discord.com/api"
	avatarCDN           = "https://cdn.discordapp.com/avatars"

	stateTTL = 10 * time.Minute
)

var (
	ErrInvalidState   = errors.New("invalid oauth state")
	ErrExchangeFailed = errors.New("code exchange failed")
	ErrProfileFetch   = errors.New("profile fetch failed")

	errMissingConfig = errors.New("identity: client id, client secret and redirect uri are required")
	errMissingSecret = errors.New("identity: state signing secret is required")
)

// Config holds the OAuth application settings. AuthorizeURL, TokenURL and
// APIBaseURL default to the public Discord endpoints when empty.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// StateSecret signs the short-lived state tokens that bind the
	// authorize redirect to its callback.
	StateSecret  string
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// Profile is the subset of the provider's user object the service needs.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
}

// Provider drives the OAuth code flow against Discord.
type Provider struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvider validates the config and builds a provider.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURI == "" {
		return nil, errMissingConfig
	}
	if cfg.StateSecret == "" {
		return nil, errMissingSecret
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = defaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	p := &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewState mints a signed single-purpose token for the authorize redirect.
func (p *Provider) NewState() (string, error) {
	now := p.now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        ids.New(),
		Issuer:    "pmrp-auth",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(p.cfg.StateSecret))
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// ValidateState verifies the callback's state token signature and expiry.
func (p *Provider) ValidateState(state string) error {
	if strings.TrimSpace(state) == "" {
		return ErrInvalidState
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("pmrp-auth"),
		jwt.WithTimeFunc(func() time.Time { return p.now().UTC() }),
	)
	_, err := parser.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(p.cfg.StateSecret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

// AuthorizeURL builds the provider redirect for the given state token.
func (p *Provider) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "identify")
	q.Set("state", state)
	return p.cfg.AuthorizeURL + "?" + q.Encode()
}

// Exchange trades the callback code for an access token and fetches the
// caller's profile with it.
func (p *Provider) Exchange(ctx context.Context, code string) (Profile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Profile{}, fmt.Errorf("%w: empty code", ErrExchangeFailed)
	}

	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: token endpoint returned %d", ErrExchangeFailed, resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return Profile{}, fmt.Errorf("%w: empty access token", ErrExchangeFailed)
	}
	return p.fetchProfile(ctx, tok.AccessToken)
}

func (p *Provider) fetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIBaseURL+"/users/@me", nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("%w: profile endpoint returned %d", ErrProfileFetch, resp.StatusCode)
	}

	var user struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Avatar     string `json:"avatar"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileFetch, err)
	}
	if user.ID == "" {
		return Profile{}, fmt.Errorf("%w: profile missing id", ErrProfileFetch)
	}

	profile := Profile{ID: user.ID, Username: user.Username}
	if user.GlobalName != "" {
		profile.Username = user.GlobalName
	}
	if user.Avatar != "" {
		profile.AvatarURL = fmt.Sprintf("%s/%s/%s.png", avatarCDN, user.ID, user.Avatar)
	}
	return profile, nil
}
