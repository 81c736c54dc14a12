// Package oauth implements the browser sign-in flow against Azure AD:
// authorization-code redirect, code-to-token exchange, lazy user
// provisioning, role application and session establishment.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/session"
)

// Session keys written by the flow. Everything except KeyUserID is
// UI-facing convenience state, not a security boundary.
const (
	KeyFlow         = "auth_flow"
	KeyTokenCache   = "token_cache"
	KeyUserID       = "user_id"
	KeyTemplates    = "incident_templates"
	KeyCanReport    = "can_report"
	KeyBusinessLine = "business_line"
)

// Defaults applied when provisioning a federated account.
const (
	defaultIncidentNumber = 50
)

var (
	// ErrNoPendingFlow is returned when a callback arrives with no stored
	// flow, e.g. a replayed redirect. The pending flow is single-use.
	ErrNoPendingFlow = errors.New("no pending sign-in flow for this session")

	// ErrStateMismatch is returned when the callback state parameter does
	// not match the one issued at sign-in.
	ErrStateMismatch = errors.New("state parameter does not match the pending flow")
)

// Config holds the provider client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	RedirectURL  string
	Scopes       []string

	// AuthURL and TokenURL override the Azure AD endpoints, used in tests.
	AuthURL  string
	TokenURL string
}

// Profile is the subset of directory attributes the flow reads.
type Profile struct {
	UserPrincipalName string `json:"userPrincipalName"`
	Department        string `json:"department"`
	Mail              string `json:"mail"`
}

// DirectoryClient fetches the signed-in user's directory profile. nil
// disables business-line resolution.
type DirectoryClient interface {
	Me(ctx context.Context, accessToken string) (*Profile, error)
}

// UserStore is the provisioning port. domain.UserRepository satisfies it.
type UserStore interface {
	GetByHomeAccountID(ctx context.Context, homeAccountID string) (*domain.User, error)
	Create(ctx context.Context, input domain.CreateUserInput) (*domain.User, error)
}

// TemplateStore serves incident templates for the post-login session
// state. domain.ReferenceRepository satisfies it.
type TemplateStore interface {
	Templates(ctx context.Context) ([]*domain.IncidentTemplate, error)
}

// PermissionApplier applies an external role set to a local user.
// auth.RoleApplier satisfies it.
type PermissionApplier interface {
	Apply(ctx context.Context, user *domain.User, roles []string, businessLine string) (*auth.MappingReport, error)
}

// Flow drives the sign-in state machine. All per-login state lives in the
// session store; the Flow itself is immutable after construction.
type Flow struct {
	oauth     *oauth2.Config
	store     session.Store
	users     UserStore
	applier   PermissionApplier
	directory DirectoryClient
	templates TemplateStore
}

// New builds the flow against Azure AD endpoints for the configured tenant.
func New(cfg Config, store session.Store, users UserStore, applier PermissionApplier, directory DirectoryClient, templates TemplateStore) *Flow {
	endpoint := microsoft.AzureADEndpoint(cfg.Tenant)
	if cfg.AuthURL != "" {
		endpoint = oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	}
	return &Flow{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		store:     store,
		users:     users,
		applier:   applier,
		directory: directory,
		templates: templates,
	}
}

// pendingFlow is persisted in the session between sign-in and callback.
type pendingFlow struct {
	State string `json:"state"`
}

// SignIn builds the authorization-code flow descriptor, persists it in the
// session and returns the provider consent URL to redirect to.
func (f *Flow) SignIn(sess *session.Session) (string, error) {
	state, err := newState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	blob, err := json.Marshal(pendingFlow{State: state})
	if err != nil {
		return "", err
	}
	sess.Set(KeyFlow, string(blob))
	f.store.Save(sess)
	return f.oauth.AuthCodeURL(state), nil
}

// CallbackResult reports what the callback did.
type CallbackResult struct {
	User         *domain.User
	Report       *auth.MappingReport
	BusinessLine string
	// Established is false when the account exists but is inactive; no
	// authenticated session was created in that case.
	Established bool
}

// Callback consumes the provider redirect: pops the single-use pending
// flow, exchanges the code, provisions the user and establishes the
// session. A replayed callback finds no pending flow and fails with
// ErrNoPendingFlow.
func (f *Flow) Callback(ctx context.Context, sess *session.Session, query url.Values) (*CallbackResult, error) {
	raw, ok := f.store.Pop(sess.ID, KeyFlow)
	if !ok {
		return nil, ErrNoPendingFlow
	}
	var pending pendingFlow
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("corrupt pending flow: %w", err)
	}

	if e := query.Get("error"); e != "" {
		return nil, fmt.Errorf("provider returned %s: %s", e, query.Get("error_description"))
	}
	if query.Get("state") != pending.State {
		return nil, ErrStateMismatch
	}
	code := query.Get("code")
	if code == "" {
		return nil, errors.New("callback is missing the authorization code")
	}

	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return nil, errors.New("token response contains no id token")
	}
	claims, err := decodeJWTPayload(idToken)
	if err != nil {
		return nil, err
	}

	cache := &TokenCache{
		IDToken:      idToken,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Account: Account{
			HomeAccountID: homeAccountID(claims),
			Username:      accountUsername(claims),
		},
	}
	if cache.Account.HomeAccountID == "" {
		return nil, errors.New("id token is missing oid/tid claims")
	}
	serialized, err := cache.Serialize()
	if err != nil {
		return nil, err
	}
	// The cache changed, write it back and renew the session.
	sess.Set(KeyTokenCache, serialized)
	f.store.Save(sess)

	user, err := f.provision(ctx, cache)
	if err != nil {
		return nil, err
	}

	// Business line comes from the directory profile; fetch failures fail
	// the login rather than silently degrading scoped roles.
	businessLine := ""
	if f.directory != nil {
		profile, err := f.directory.Me(ctx, cache.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("fetch directory profile: %w", err)
		}
		businessLine = profile.Department
	}

	report, err := f.applier.Apply(ctx, user, claimStrings(claims, "roles"), businessLine)
	if err != nil {
		return nil, err
	}

	result := &CallbackResult{User: user, Report: report, BusinessLine: businessLine}
	if !user.IsActive {
		log.Warn().Str("user", user.Username).Msg("sign-in completed for inactive account, no session established")
		return result, nil
	}

	if err := f.establish(ctx, sess, user, businessLine); err != nil {
		return nil, err
	}
	result.Established = true
	return result, nil
}

// SignOut clears the token cache and auxiliary state and terminates the
// session.
func (f *Flow) SignOut(sess *session.Session) {
	f.store.Destroy(sess.ID)
}

// provision looks the account up by its stable external key, creating it
// with default settings and an unusable password on first login.
func (f *Flow) provision(ctx context.Context, cache *TokenCache) (*domain.User, error) {
	user, err := f.users.GetByHomeAccountID(ctx, cache.Account.HomeAccountID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("look up account: %w", err)
	}

	user, err = f.users.Create(ctx, domain.CreateUserInput{
		Username:       cache.Account.Username,
		HomeAccountID:  cache.Account.HomeAccountID,
		HideClosed:     false,
		IncidentNumber: defaultIncidentNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("provision account: %w", err)
	}
	log.Info().Str("user", user.Username).Msg("provisioned federated account")
	return user, nil
}

// establish binds the session to the user and fills in the UI convenience
// state read by the presentation layer.
func (f *Flow) establish(ctx context.Context, sess *session.Session, user *domain.User, businessLine string) error {
	sess.Set(KeyUserID, user.ID.String())
	sess.Set(KeyCanReport, strconv.FormatBool(user.CanHandleIncidents()))
	if businessLine != "" {
		sess.Set(KeyBusinessLine, businessLine)
	}

	if f.templates != nil {
		templates, err := f.templates.Templates(ctx)
		if err != nil {
			return fmt.Errorf("load incident templates: %w", err)
		}
		names := make([]string, 0, len(templates))
		for _, t := range templates {
			names = append(names, t.Name)
		}
		blob, err := json.Marshal(names)
		if err != nil {
			return err
		}
		sess.Set(KeyTemplates, string(blob))
	}

	f.store.Save(sess)
	return nil
}

func accountUsername(claims map[string]any) string {
	if u := claimString(claims, "preferred_username"); u != "" {
		return u
	}
	return claimString(claims, "upn")
}

func newState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
