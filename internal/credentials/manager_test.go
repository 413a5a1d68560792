package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/hearthhq/hearth/internal/store"
)

type fakeAccounts struct {
	account *store.Account

	tokensUpdated bool
	errorSet      bool
	errorCleared  bool
	storedError   string
	storedAccess  string
	storedRefresh *string
	storedExpiry  time.Time
}

func (f *fakeAccounts) GetByID(ctx context.Context, id int64) (*store.Account, error) {
	if f.account == nil || f.account.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *f.account
	return &cp, nil
}

func (f *fakeAccounts) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiry time.Time) error {
	f.tokensUpdated = true
	f.storedAccess = accessToken
	f.storedRefresh = refreshToken
	f.storedExpiry = expiry
	f.account.AccessToken = accessToken
	f.account.TokenExpiry = expiry
	return nil
}

func (f *fakeAccounts) SetError(ctx context.Context, id int64, message string, at time.Time) error {
	f.errorSet = true
	f.storedError = message
	return nil
}

func (f *fakeAccounts) ClearError(ctx context.Context, id int64) error {
	f.errorCleared = true
	return nil
}

func strPtr(s string) *string { return &s }

func newTestManager(accounts *fakeAccounts, tokenURL string) *Manager {
	m := NewManager(accounts, &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	})
	return m
}

func TestGetValidTokenUnexpiredReturnsUnchanged(t *testing.T) {
	accounts := &fakeAccounts{account: &store.Account{
		ID:          1,
		AccessToken: "live-token",
		TokenExpiry: time.Now().Add(time.Hour),
	}}

	m := newTestManager(accounts, "http://127.0.0.1:0/should-not-be-called")

	tok, err := m.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if tok != "live-token" {
		t.Errorf("token = %q, want live-token", tok)
	}
	if accounts.tokensUpdated {
		t.Error("unexpired token must not trigger a refresh")
	}
}

func TestGetValidTokenWithinSkewRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("unexpected refresh form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	accounts := &fakeAccounts{account: &store.Account{
		ID:           1,
		AccessToken:  "stale-token",
		RefreshToken: strPtr("refresh-1"),
		// Expires inside the 5-minute safety buffer.
		TokenExpiry: time.Now().Add(time.Minute),
	}}

	m := newTestManager(accounts, srv.URL)

	tok, err := m.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", tok)
	}
	if !accounts.tokensUpdated {
		t.Error("refreshed token must be persisted")
	}
	if !accounts.errorCleared {
		t.Error("successful refresh must clear any stored error")
	}
	if accounts.storedExpiry.Before(time.Now().Add(30 * time.Minute)) {
		t.Errorf("stored expiry %v not advanced", accounts.storedExpiry)
	}
}

func TestGetValidTokenConcurrentCallersShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	accounts := &fakeAccounts{account: &store.Account{
		ID:           1,
		AccessToken:  "stale-token",
		RefreshToken: strPtr("refresh-1"),
		TokenExpiry:  time.Now().Add(-time.Minute),
	}}

	m := newTestManager(accounts, srv.URL)

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidToken(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "fresh-token" {
			t.Errorf("caller %d token = %q, want fresh-token", i, tokens[i])
		}
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refresh requests = %d, want exactly 1", got)
	}
}

func TestGetValidTokenRejectedRefreshFlagsAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	accounts := &fakeAccounts{account: &store.Account{
		ID:           1,
		AccessToken:  "stale-token",
		RefreshToken: strPtr("revoked"),
		TokenExpiry:  time.Now().Add(-time.Hour),
	}}

	m := newTestManager(accounts, srv.URL)

	_, err := m.GetValidToken(context.Background(), 1)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
	if !accounts.errorSet {
		t.Error("rejected refresh must persist an error on the account")
	}
	if accounts.storedError == "" {
		t.Error("persisted error must be human readable")
	}
	if accounts.tokensUpdated {
		t.Error("rejected refresh must not persist tokens")
	}
}

func TestGetValidTokenMissingAccessToken(t *testing.T) {
	accounts := &fakeAccounts{account: &store.Account{ID: 1}}
	m := newTestManager(accounts, "http://127.0.0.1:0/unused")

	_, err := m.GetValidToken(context.Background(), 1)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
}

func TestGetValidTokenExpiredWithoutRefreshToken(t *testing.T) {
	accounts := &fakeAccounts{account: &store.Account{
		ID:          1,
		AccessToken: "stale",
		TokenExpiry: time.Now().Add(-time.Minute),
	}}
	m := newTestManager(accounts, "http://127.0.0.1:0/unused")

	_, err := m.GetValidToken(context.Background(), 1)
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
}

func TestGetValidTokenUnknownAccount(t *testing.T) {
	accounts := &fakeAccounts{}
	m := newTestManager(accounts, "http://127.0.0.1:0/unused")

	_, err := m.GetValidToken(context.Background(), 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want store.ErrNotFound", err)
	}
}
