package turncreds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchParsesIssuedCredentials(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/turn" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"servers": []map[string]any{{
				"urls":       []string{"turn:relay.example.com:3478"},
				"username":   "1700000000:abc",
				"credential": "secret",
			}},
			"expiresAt": expiry.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	creds, err := Fetch(context.Background(), srv.URL, "tok123")
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(creds.Servers) != 1 || creds.Servers[0].Username != "1700000000:abc" {
		t.Errorf("servers = %v", creds.Servers)
	}
	if !creds.ExpiresAt.Equal(expiry) {
		t.Errorf("ExpiresAt = %v, want %v", creds.ExpiresAt, expiry)
	}
}

func TestFetchOmitsAuthorizationWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want none", auth)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"servers":   []map[string]any{},
			"expiresAt": time.Now().Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL, ""); err != nil {
		t.Fatal(err)
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL, "tok"); err == nil {
		t.Error("Fetch succeeded on 403")
	}
}

func TestFetchRejectsBadExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"servers":   []map[string]any{},
			"expiresAt": "not-a-timestamp",
		})
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL, "tok"); err == nil {
		t.Error("Fetch succeeded on malformed expiresAt")
	}
}
