package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Account references the signed-in directory account. HomeAccountID is the
// stable external identity key (object id + tenant id) used to look up the
// local user across logins.
type Account struct {
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username"`
}

// TokenCache is the serializable token set kept in the server-side session
// between requests. It is regenerated on every exchange and deleted on
// sign-out.
type TokenCache struct {
	IDToken      string    `json:"id_token"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Account      Account   `json:"account"`
}

// Serialize encodes the cache for session storage.
func (c *TokenCache) Serialize() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("serialize token cache: %w", err)
	}
	return string(b), nil
}

// DeserializeCache restores a cache from its session blob.
func DeserializeCache(blob string) (*TokenCache, error) {
	var c TokenCache
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return nil, fmt.Errorf("deserialize token cache: %w", err)
	}
	return &c, nil
}

// decodeJWTPayload base64-decodes the middle segment of a JWT without any
// signature check. Only used on the id token obtained through the
// TLS-protected code exchange with the provider, never on inbound
// credentials.
func decodeJWTPayload(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("id token has %d segments, want 3", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode id token payload: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse id token payload: %w", err)
	}
	return payload, nil
}

// homeAccountID derives the stable identity key from id token claims,
// "<object id>.<tenant id>".
func homeAccountID(claims map[string]any) string {
	oid, _ := claims["oid"].(string)
	tid, _ := claims["tid"].(string)
	if oid == "" || tid == "" {
		return ""
	}
	return oid + "." + tid
}

// claimString reads a string claim, empty when absent.
func claimString(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}

// claimStrings reads a string-list claim.
func claimStrings(claims map[string]any, name string) []string {
	switch typed := claims[name].(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return typed
	case string:
		return []string{typed}
	default:
		return nil
	}
}
