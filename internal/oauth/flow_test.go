package oauth_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/oauth"
	"github.com/firsec/fir/internal/session"
)

// unsignedIDToken builds a JWT-shaped token whose payload carries the given
// claims. The flow only base64-decodes the middle segment.
func unsignedIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

// tokenEndpoint fakes the provider's code-to-token exchange.
func tokenEndpoint(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "graph-access-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-token",
			"id_token":      idToken,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeUserStore struct {
	byHomeAccount map[string]*domain.User
	created       []*domain.User
}

func (f *fakeUserStore) GetByHomeAccountID(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.byHomeAccount[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) Create(_ context.Context, input domain.CreateUserInput) (*domain.User, error) {
	u := &domain.User{
		ID:             uuid.New(),
		Username:       input.Username,
		IsActive:       true,
		HideClosed:     input.HideClosed,
		IncidentNumber: input.IncidentNumber,
		HomeAccountID:  input.HomeAccountID,
		CreatedAt:      time.Now(),
	}
	f.byHomeAccount[input.HomeAccountID] = u
	f.created = append(f.created, u)
	return u, nil
}

type fakeApplier struct {
	roles        []string
	businessLine string
	report       *auth.MappingReport
}

func (f *fakeApplier) Apply(_ context.Context, user *domain.User, roles []string, businessLine string) (*auth.MappingReport, error) {
	f.roles = roles
	f.businessLine = businessLine
	user.Groups = []string{domain.GroupIncidentHandlers}
	if f.report == nil {
		f.report = &auth.MappingReport{Applied: roles}
	}
	return f.report, nil
}

type fakeDirectory struct {
	profile *oauth.Profile
	err     error
}

func (f *fakeDirectory) Me(_ context.Context, _ string) (*oauth.Profile, error) {
	return f.profile, f.err
}

type fakeTemplates struct{}

func (fakeTemplates) Templates(_ context.Context) ([]*domain.IncidentTemplate, error) {
	return []*domain.IncidentTemplate{{Name: "Phishing"}, {Name: "Malware"}}, nil
}

type flowFixture struct {
	flow  *oauth.Flow
	store *session.MemoryStore
	users *fakeUserStore
}

func newFlowFixture(t *testing.T, idToken string, directory oauth.DirectoryClient) *flowFixture {
	t.Helper()
	srv := tokenEndpoint(t, idToken)
	store := session.NewMemoryStore(time.Minute)
	users := &fakeUserStore{byHomeAccount: map[string]*domain.User{}}
	flow := oauth.New(oauth.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://fir.local/ms_auth/redirect",
		Scopes:       []string{"User.Read"},
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
	}, store, users, &fakeApplier{}, directory, fakeTemplates{})
	return &flowFixture{flow: flow, store: store, users: users}
}

func stateFromAuthURI(t *testing.T, authURI string) string {
	t.Helper()
	parsed, err := url.Parse(authURI)
	if err != nil {
		t.Fatalf("parse auth uri: %v", err)
	}
	return parsed.Query().Get("state")
}

func defaultClaims() map[string]any {
	return map[string]any{
		"oid":                "00000000-aaaa",
		"tid":                "11111111-bbbb",
		"preferred_username": "alice@example.com",
		"roles":              []string{"FIR.incident_responder"},
	}
}

func TestFlow_SignInThenCallback(t *testing.T) {
	idToken := unsignedIDToken(t, defaultClaims())
	f := newFlowFixture(t, idToken, &fakeDirectory{profile: &oauth.Profile{Department: "Retail Banking"}})

	sess, _ := f.store.New()
	authURI, err := f.flow.SignIn(sess)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	state := stateFromAuthURI(t, authURI)
	if state == "" {
		t.Fatal("auth uri has no state parameter")
	}

	query := url.Values{"state": {state}, "code": {"authcode"}}
	result, err := f.flow.Callback(context.Background(), sess, query)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !result.Established {
		t.Fatal("expected an established session")
	}
	if result.User.Username != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", result.User)
	}
	if result.User.IncidentNumber != 50 {
		t.Fatalf("expected default page size 50, got %d", result.User.IncidentNumber)
	}
	if result.BusinessLine != "Retail Banking" {
		t.Fatalf("unexpected business line %q", result.BusinessLine)
	}
	if len(f.users.created) != 1 {
		t.Fatalf("expected lazy provisioning, created=%d", len(f.users.created))
	}

	stored, ok := f.store.Get(sess.ID)
	if !ok {
		t.Fatal("session vanished")
	}
	if stored.Get(oauth.KeyUserID) != result.User.ID.String() {
		t.Fatal("session is not bound to the user")
	}
	if stored.Get(oauth.KeyCanReport) != "true" {
		t.Fatalf("expected can_report=true, got %q", stored.Get(oauth.KeyCanReport))
	}
	cache, err := oauth.DeserializeCache(stored.Get(oauth.KeyTokenCache))
	if err != nil {
		t.Fatalf("token cache: %v", err)
	}
	if cache.Account.HomeAccountID != "00000000-aaaa.11111111-bbbb" {
		t.Fatalf("unexpected home account id %q", cache.Account.HomeAccountID)
	}
	var templates []string
	if err := json.Unmarshal([]byte(stored.Get(oauth.KeyTemplates)), &templates); err != nil || len(templates) != 2 {
		t.Fatalf("unexpected templates %q", stored.Get(oauth.KeyTemplates))
	}
}

func TestFlow_ReplayedCallbackFailsGracefully(t *testing.T) {
	idToken := unsignedIDToken(t, defaultClaims())
	f := newFlowFixture(t, idToken, nil)

	sess, _ := f.store.New()
	authURI, err := f.flow.SignIn(sess)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	query := url.Values{"state": {stateFromAuthURI(t, authURI)}, "code": {"authcode"}}

	if _, err := f.flow.Callback(context.Background(), sess, query); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	_, err = f.flow.Callback(context.Background(), sess, query)
	if !errors.Is(err, oauth.ErrNoPendingFlow) {
		t.Fatalf("expected ErrNoPendingFlow on replay, got %v", err)
	}
}

func TestFlow_StateMismatch(t *testing.T) {
	idToken := unsignedIDToken(t, defaultClaims())
	f := newFlowFixture(t, idToken, nil)

	sess, _ := f.store.New()
	if _, err := f.flow.SignIn(sess); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	query := url.Values{"state": {"forged"}, "code": {"authcode"}}
	if _, err := f.flow.Callback(context.Background(), sess, query); !errors.Is(err, oauth.ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
}

func TestFlow_InactiveAccountGetsNoSession(t *testing.T) {
	idToken := unsignedIDToken(t, defaultClaims())
	f := newFlowFixture(t, idToken, nil)
	f.users.byHomeAccount["00000000-aaaa.11111111-bbbb"] = &domain.User{
		ID: uuid.New(), Username: "alice@example.com", IsActive: false,
	}

	sess, _ := f.store.New()
	authURI, _ := f.flow.SignIn(sess)
	query := url.Values{"state": {stateFromAuthURI(t, authURI)}, "code": {"authcode"}}

	result, err := f.flow.Callback(context.Background(), sess, query)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.Established {
		t.Fatal("inactive account must not get a session")
	}
	stored, _ := f.store.Get(sess.ID)
	if stored.Get(oauth.KeyUserID) != "" {
		t.Fatal("session must not be bound to an inactive user")
	}
}

func TestFlow_DirectoryFailureFailsClosed(t *testing.T) {
	idToken := unsignedIDToken(t, defaultClaims())
	f := newFlowFixture(t, idToken, &fakeDirectory{err: fmt.Errorf("graph unavailable")})

	sess, _ := f.store.New()
	authURI, _ := f.flow.SignIn(sess)
	query := url.Values{"state": {stateFromAuthURI(t, authURI)}, "code": {"authcode"}}

	if _, err := f.flow.Callback(context.Background(), sess, query); err == nil {
		t.Fatal("expected directory failure to abort the login")
	}
}

func TestFlow_SignOutDestroysSession(t *testing.T) {
	idToken := unsignedIDToken(t, defaultClaims())
	f := newFlowFixture(t, idToken, nil)

	sess, _ := f.store.New()
	authURI, _ := f.flow.SignIn(sess)
	query := url.Values{"state": {stateFromAuthURI(t, authURI)}, "code": {"authcode"}}
	if _, err := f.flow.Callback(context.Background(), sess, query); err != nil {
		t.Fatalf("callback: %v", err)
	}

	f.flow.SignOut(sess)
	if _, ok := f.store.Get(sess.ID); ok {
		t.Fatal("expected session to be destroyed")
	}
}
