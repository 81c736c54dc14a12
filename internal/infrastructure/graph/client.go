// Package graph implements oauth.DirectoryClient against the Microsoft
// Graph REST API.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/firsec/fir/internal/oauth"
)

// DefaultBaseURL is the production Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client calls the Graph API with the signed-in user's access token.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Small cache so repeated logins within a token's lifetime don't
	// hammer Graph. Keyed by a digest of the access token.
	mu        sync.RWMutex
	cacheTTL  time.Duration
	cacheData map[string]cacheEntry
}

type cacheEntry struct {
	profile   *oauth.Profile
	expiresAt time.Time
}

// New creates a Graph client with a 30-second profile cache. An empty
// baseURL selects the production endpoint.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cacheTTL:   30 * time.Second,
		cacheData:  make(map[string]cacheEntry),
	}
}

// Me implements oauth.DirectoryClient.
func (c *Client) Me(ctx context.Context, accessToken string) (*oauth.Profile, error) {
	key := tokenDigest(accessToken)
	if profile, ok := c.fromCache(key); ok {
		return profile, nil
	}

	url := c.baseURL + "/me?$select=userPrincipalName,department,mail"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph /me: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph /me: status %d", resp.StatusCode)
	}

	var profile oauth.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("graph /me decode: %w", err)
	}

	c.toCache(key, &profile)
	return &profile, nil
}

func (c *Client) fromCache(key string) (*oauth.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cacheData[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.profile, true
}

func (c *Client) toCache(key string, profile *oauth.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheData[key] = cacheEntry{profile: profile, expiresAt: time.Now().Add(c.cacheTTL)}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
