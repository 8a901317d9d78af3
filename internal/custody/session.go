package custody

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/walletguard/walletguard/internal/crypto"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// Session lifetimes.
const (
	DefaultSessionTTL           = 15 * time.Minute
	DefaultSessionSweepInterval = time.Minute

	sessionTokenBytes = 32
)

// Session is the in-memory custody of one decrypted Master Secret. It is
// never persisted; the secret buffer is zeroed the moment the session
// ends, so holders of a stale pointer read zeros, not the secret.
type Session struct {
	Token         string
	WalletAddress string
	MasterSecret  []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// SessionConfig holds the session TTL and sweep interval. Zero values
// fall back to the defaults.
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// SessionStore keeps unlocked Master Secrets in a process-local map
// keyed by random tokens. A background sweep evicts expired sessions so
// abandoned ones do not pin secret material in memory until next access.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      SessionConfig

	// now is replaceable in tests
	now    func() time.Time
	stop   chan struct{}
	closed bool
}

// NewSessionStore creates a session store and starts its sweep. Call
// Close to stop the sweep and wipe everything.
func NewSessionStore(cfg SessionConfig) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSessionSweepInterval
	}

	s := &SessionStore{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Create stores a copy of the Master Secret under a fresh random token.
// The caller keeps ownership of its own buffer.
func (s *SessionStore) Create(walletAddress string, masterSecret []byte) (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	now := s.now()
	session := &Session{
		Token:         token,
		WalletAddress: walletAddress,
		MasterSecret:  append([]byte(nil), masterSecret...),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		crypto.Wipe(session.MasterSecret)
		return "", fmt.Errorf("session store is closed")
	}
	s.sessions[token] = session
	return token, nil
}

// Get returns the live session for a token. A session found expired is
// destroyed on the spot and reported as expired; afterwards the token is
// indistinguishable from one never issued.
func (s *SessionStore) Get(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	if s.now().After(session.ExpiresAt) {
		s.destroyLocked(token)
		return nil, apperrors.ErrSessionExpired
	}
	return session, nil
}

// Invalidate ends a session, wiping its secret. Unknown tokens are a
// no-op.
func (s *SessionStore) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyLocked(token)
}

// InvalidateAllForWallet ends every session belonging to a wallet.
// Returns how many sessions were destroyed.
func (s *SessionStore) InvalidateAllForWallet(walletAddress string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	destroyed := 0
	for token, session := range s.sessions {
		if session.WalletAddress == walletAddress {
			s.destroyLocked(token)
			destroyed++
		}
	}
	return destroyed
}

// Count returns the number of live sessions, expired included until the
// next sweep observes them.
func (s *SessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the sweep and wipes every session.
func (s *SessionStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stop)
	for token := range s.sessions {
		s.destroyLocked(token)
	}
}

// destroyLocked wipes and removes one session. Callers hold s.mu.
func (s *SessionStore) destroyLocked(token string) {
	session, ok := s.sessions[token]
	if !ok {
		return
	}
	crypto.Wipe(session.MasterSecret)
	delete(s.sessions, token)
}

func (s *SessionStore) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			s.destroyLocked(token)
		}
	}
}
