// Package freshness issues the session nonces that bind a compatibility proof
// to one swipe. A nonce is bound to the (actor, target) pair it was issued for,
// expires after a TTL and can be consumed once.
package freshness

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

const (
	// NonceLength is the length of generated nonces in bytes.
	NonceLength = 16

	// DefaultTTL is how long an issued nonce stays valid.
	DefaultTTL = 5 * time.Minute

	// DefaultCleanupInterval is the default interval for the cleanup loop.
	DefaultCleanupInterval = 30 * time.Second

	// DefaultCapacity bounds the number of outstanding nonces.
	DefaultCapacity = 10000
)

// Errors returned by the Store. All but ErrStoreAtCapacity wrap
// protocol.ErrStaleNonce.
var (
	ErrUnknownNonce    = fmt.Errorf("%w: unknown nonce", protocol.ErrStaleNonce)
	ErrNonceBound      = fmt.Errorf("%w: nonce bound to a different pair", protocol.ErrStaleNonce)
	ErrNonceExpired    = fmt.Errorf("%w: nonce expired", protocol.ErrStaleNonce)
	ErrNonceUsed       = fmt.Errorf("%w: nonce already used", protocol.ErrStaleNonce)
	ErrStoreAtCapacity = errors.New("freshness: nonce store at capacity")
)

// Config tunes a Store.
type Config struct {
	TTL             time.Duration
	Capacity        int
	CleanupInterval time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now protocol.Clock
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		TTL:             DefaultTTL,
		Capacity:        DefaultCapacity,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Nonce is an issued session nonce.
type Nonce struct {
	Value     []byte
	Actor     protocol.Address
	Target    protocol.Address
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signal returns the nonce as the SessionNonce public signal.
func (n *Nonce) Signal() (*big.Int, error) {
	return zkproof.NonceSignal(n.Value)
}

// String returns the hex encoding, which is also the compatibility epoch.
func (n *Nonce) String() string {
	return hex.EncodeToString(n.Value)
}

type record struct {
	nonce Nonce
	used  bool
}

// Store holds outstanding nonces. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	nonces map[string]*record
	cfg    Config

	stopCleanup chan struct{}
	stopped     bool
}

// NewStore creates a Store and starts its cleanup loop. Zero config fields
// take their defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	s := &Store{
		nonces:      make(map[string]*record),
		cfg:         cfg,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Issue creates a nonce bound to actor swiping on target.
func (s *Store) Issue(actor, target protocol.Address) (*Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nonces) >= s.cfg.Capacity {
		return nil, ErrStoreAtCapacity
	}

	value := make([]byte, NonceLength)
	for isZero(value) {
		if _, err := rand.Read(value); err != nil {
			return nil, fmt.Errorf("freshness: draw nonce: %w", err)
		}
	}

	now := s.cfg.Now.Now()
	n := Nonce{
		Value:     value,
		Actor:     actor,
		Target:    target,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	s.nonces[n.String()] = &record{nonce: n}

	out := n
	out.Value = append([]byte(nil), value...)
	return &out, nil
}

// Consume validates the session nonce signal of a proof and marks it used.
// It checks that the nonce exists, is bound to (actor, target), has not
// expired and has not been used before. On success it returns the epoch
// string identifying the nonce.
func (s *Store) Consume(signal *big.Int, actor, target protocol.Address) (string, error) {
	if signal == nil || signal.Sign() <= 0 || signal.BitLen() > NonceLength*8 {
		return "", ErrUnknownNonce
	}
	key := hex.EncodeToString(signal.FillBytes(make([]byte, NonceLength)))

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nonces[key]
	if !ok {
		return "", ErrUnknownNonce
	}
	if rec.nonce.Actor != actor || rec.nonce.Target != target {
		return "", ErrNonceBound
	}
	if s.cfg.Now.Now().After(rec.nonce.ExpiresAt) {
		return "", ErrNonceExpired
	}
	if rec.used {
		return "", ErrNonceUsed
	}

	rec.used = true
	return key, nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired and used nonces.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now.Now()
	for key, rec := range s.nonces {
		if rec.used || now.After(rec.nonce.ExpiresAt) {
			delete(s.nonces, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call Stop multiple times.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		close(s.stopCleanup)
		s.stopped = true
	}
}

// Stats returns the number of stored, pending and used nonces.
func (s *Store) Stats() (total, pending, used int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now.Now()
	total = len(s.nonces)
	for _, rec := range s.nonces {
		if rec.used {
			used++
		} else if !now.After(rec.nonce.ExpiresAt) {
			pending++
		}
	}
	return total, pending, used
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
