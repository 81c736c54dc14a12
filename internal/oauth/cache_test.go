package oauth_test

import (
	"testing"
	"time"

	"github.com/firsec/fir/internal/oauth"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	original := &oauth.TokenCache{
		IDToken:      "header.payload.sig",
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Account: oauth.Account{
			HomeAccountID: "oid.tid",
			Username:      "alice@example.com",
		},
	}

	blob, err := original.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	restored, err := oauth.DeserializeCache(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if *restored != *original {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", restored, original)
	}
}

func TestDeserializeCache_Corrupt(t *testing.T) {
	if _, err := oauth.DeserializeCache("not json"); err == nil {
		t.Fatal("expected error for corrupt blob")
	}
}
