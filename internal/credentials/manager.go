// Package credentials maintains valid delegated-access tokens for connected
// provider accounts, refreshing them as they expire.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/hearthhq/hearth/internal/store"
)

// expirySkew treats tokens expiring within this buffer as already expired so a
// long sync run does not start with a token about to die under it.
const expirySkew = 5 * time.Minute

// ErrReauthRequired means the account has no usable token and no refresh is
// possible: the user must re-authorize. Callers treat this as "cannot sync
// now"; the error is already recorded on the account row.
var ErrReauthRequired = errors.New("account requires re-authorization")

// Manager hands out valid access tokens, refreshing and persisting them as
// needed. Refreshes for the same account are serialized so concurrent callers
// share one exchange.
type Manager struct {
	accounts store.AccountRepository
	oauth    *oauth2.Config
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewManager creates a credential manager. The oauth2 config needs only the
// client credentials and the provider token endpoint; the authorization-code
// leg of the flow lives in the product's onboarding, not here.
func NewManager(accounts store.AccountRepository, oauth *oauth2.Config) *Manager {
	return &Manager{
		accounts: accounts,
		oauth:    oauth,
		now:      time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// GetValidToken returns a bearer token for the account, refreshing it first if
// it expires within the skew window. A refresh rejected by the provider is
// persisted on the account as a re-authorization flag and surfaces as
// ErrReauthRequired; no retry happens here.
func (m *Manager) GetValidToken(ctx context.Context, accountID int64) (string, error) {
	lock := m.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	acct, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load account %d: %w", accountID, err)
	}

	if acct.AccessToken == "" {
		return "", fmt.Errorf("account %d has no access token: %w", accountID, ErrReauthRequired)
	}
	if acct.TokenExpiry.After(m.now().Add(expirySkew)) {
		return acct.AccessToken, nil
	}
	if acct.RefreshToken == nil || *acct.RefreshToken == "" {
		return "", fmt.Errorf("account %d token expired with no refresh token: %w", accountID, ErrReauthRequired)
	}

	return m.refresh(ctx, acct)
}

func (m *Manager) refresh(ctx context.Context, acct *store.Account) (string, error) {
	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: *acct.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		msg := fmt.Sprintf("token refresh rejected: %v", err)
		if serr := m.accounts.SetError(ctx, acct.ID, msg, m.now()); serr != nil {
			log.Printf("[ERROR] persist refresh error for account %d: %v", acct.ID, serr)
		}
		return "", fmt.Errorf("refresh account %d: %w", acct.ID, ErrReauthRequired)
	}

	var rotated *string
	if tok.RefreshToken != "" && tok.RefreshToken != *acct.RefreshToken {
		rotated = &tok.RefreshToken
	}
	if err := m.accounts.UpdateTokens(ctx, acct.ID, tok.AccessToken, rotated, tok.Expiry); err != nil {
		return "", fmt.Errorf("persist refreshed token for account %d: %w", acct.ID, err)
	}
	if err := m.accounts.ClearError(ctx, acct.ID); err != nil {
		log.Printf("[WARN] clear refresh error for account %d: %v", acct.ID, err)
	}
	return tok.AccessToken, nil
}

func (m *Manager) accountLock(accountID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[accountID] = lock
	}
	return lock
}
