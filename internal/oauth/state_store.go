package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"mcpstudio/pkg/logging"
)

// pendingAuth is what an authorization request remembers until its callback.
type pendingAuth struct {
	Integration  string
	Account      string
	CodeVerifier string
	CreatedAt    time.Time
}

// StateStore keeps the state parameters of in-flight authorization requests.
// A state is single use and expires after the configured TTL.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*pendingAuth
	ttl    time.Duration
	now    func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStateStore creates a state store and starts its cleanup loop.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ss := &StateStore{
		states:      make(map[string]*pendingAuth),
		ttl:         ttl,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

// Generate stores a pending authorization and returns its state parameter.
func (ss *StateStore) Generate(integration, account, verifier string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(nonce)

	ss.mu.Lock()
	ss.states[state] = &pendingAuth{
		Integration:  integration,
		Account:      account,
		CodeVerifier: verifier,
		CreatedAt:    ss.now(),
	}
	ss.mu.Unlock()

	logging.Debug("OAuth", "Generated state for integration=%s", integration)
	return state, nil
}

// Consume returns and removes the pending authorization for state.
// It returns nil for unknown, already used or expired states.
func (ss *StateStore) Consume(state string) *pendingAuth {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	p, ok := ss.states[state]
	if !ok {
		logging.Warn("OAuth", "State not found in store")
		return nil
	}
	delete(ss.states, state)

	if age := ss.now().Sub(p.CreatedAt); age > ss.ttl {
		logging.Warn("OAuth", "State expired for integration=%s age=%v", p.Integration, age)
		return nil
	}
	return p
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (ss *StateStore) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopCleanup) })
}

func (ss *StateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCleanup:
			return
		}
	}
}

func (ss *StateStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	count := 0
	for state, p := range ss.states {
		if ss.now().Sub(p.CreatedAt) > ss.ttl {
			delete(ss.states, state)
			count++
		}
	}
	if count > 0 {
		logging.Debug("OAuth", "Cleaned up %d expired states", count)
	}
}
