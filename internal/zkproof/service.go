// Package zkproof provides the service layer over the proof circuits.
//
// Service compiles both protocol circuits once, verifies proofs through an
// LRU result cache and runs proof generation on a bounded set of workers
// with a per-proof timeout.
//
// # Thread Safety
//
// Service is safe for concurrent use from multiple goroutines.
// Metrics are tracked using atomic operations.
package zkproof

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/aura-protocol/aura/pkg/zkproof"
)

// Config contains configuration for the proof service.
type Config struct {
	// ProofTimeoutSeconds bounds a single proof generation.
	ProofTimeoutSeconds int `toml:"proof_timeout_seconds"`

	// ProverWorkers is the number of proofs generated in parallel.
	ProverWorkers int `toml:"prover_workers"`

	// VerifyCacheSize is the number of verification results kept.
	VerifyCacheSize int `toml:"verify_cache_size"`

	// MinAge and MaxAge are the age bounds proven at registration.
	MinAge uint64 `toml:"min_age"`
	MaxAge uint64 `toml:"max_age"`
}

// DefaultConfig returns a Config with the protocol defaults.
func DefaultConfig() Config {
	return Config{
		ProofTimeoutSeconds: 30,
		ProverWorkers:       2,
		VerifyCacheSize:     1024,
		MinAge:              18,
		MaxAge:              120,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.ProofTimeoutSeconds <= 0 {
		return fmt.Errorf("zk: proof_timeout_seconds must be positive")
	}
	if c.ProverWorkers <= 0 {
		return fmt.Errorf("zk: prover_workers must be positive")
	}
	if c.VerifyCacheSize <= 0 {
		return fmt.Errorf("zk: verify_cache_size must be positive")
	}
	if c.MinAge > c.MaxAge || c.MaxAge > zkproof.MaxAgeBound {
		return fmt.Errorf("zk: age bounds [%d, %d] must satisfy min <= max <= %d", c.MinAge, c.MaxAge, zkproof.MaxAgeBound)
	}
	return nil
}

// ProofTimeout returns the proof timeout as a duration.
func (c Config) ProofTimeout() time.Duration {
	return time.Duration(c.ProofTimeoutSeconds) * time.Second
}

// Stats is a snapshot of the service metrics.
type Stats struct {
	ProofsGenerated uint64
	ProofsFailed    uint64
	ProofsVerified  uint64
	ProofsRejected  uint64
	CacheHits       uint64
	CacheMisses     uint64
}

// Service provides proof generation and verification for the protocol.
type Service struct {
	config   Config
	prover   *zkproof.Prover
	verifier *zkproof.Verifier
	cache    *lru.Cache
	slots    chan struct{}
	log      *slog.Logger
	closed   atomic.Bool

	proofsGenerated atomic.Uint64
	proofsFailed    atomic.Uint64
	proofsVerified  atomic.Uint64
	proofsRejected  atomic.Uint64
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64
}

// NewService compiles both circuits and creates the service. Compilation and
// setup take several seconds the first time; the compiled circuits are
// shared process-wide.
func NewService(config Config, logger *slog.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiled, err := zkproof.GetCompiledCircuits()
	if err != nil {
		return nil, fmt.Errorf("compile circuits: %w", err)
	}
	cache, err := lru.New(config.VerifyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("verify cache: %w", err)
	}

	return &Service{
		config:   config,
		prover:   zkproof.NewProver(compiled...),
		verifier: zkproof.NewVerifier(compiled...),
		cache:    cache,
		slots:    make(chan struct{}, config.ProverWorkers),
		log:      logger,
	}, nil
}

// Config returns a copy of the service configuration.
func (s *Service) Config() Config {
	return s.config
}

// Verify checks a proof against its public signals. Results are cached by
// the hash of (kind, proof, signals); verification is deterministic, so a
// cached rejection is as final as a fresh one.
func (s *Service) Verify(kind zkproof.CircuitKind, proof []byte, signals zkproof.PublicSignals) error {
	key := cacheKey(kind, proof, signals)
	if cached, ok := s.cache.Get(key); ok {
		s.cacheHits.Add(1)
		if cached == nil {
			return nil
		}
		return cached.(error)
	}
	s.cacheMisses.Add(1)

	err := s.verifier.Verify(kind, proof, signals)
	if err != nil {
		s.proofsRejected.Add(1)
		s.log.Debug("proof rejected", "circuit", kind, "error", err)
		s.cache.Add(key, err)
		return err
	}
	s.proofsVerified.Add(1)
	s.cache.Add(key, nil)
	return nil
}

// ProveCommitmentValidity proves the age commitment against the configured
// age bounds.
func (s *Service) ProveCommitmentValidity(ctx context.Context, age uint64, salt zkproof.Salt) (*zkproof.ProofResult, error) {
	var result *zkproof.ProofResult
	err := s.run(ctx, zkproof.CircuitCommitmentValidity, func() error {
		var err error
		result, err = s.prover.ProveCommitmentValidity(age, salt, s.config.MinAge, s.config.MaxAge)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ProveCompatibility proves the compatibility of the witness parties, bound
// to sessionNonce.
func (s *Service) ProveCompatibility(ctx context.Context, w zkproof.CompatibilityWitness, sessionNonce *big.Int) (*zkproof.ProofResult, zkproof.CompatibilitySignals, error) {
	var (
		result  *zkproof.ProofResult
		signals zkproof.CompatibilitySignals
	)
	err := s.run(ctx, zkproof.CircuitCompatibility, func() error {
		var err error
		result, signals, err = s.prover.ProveCompatibility(w, sessionNonce)
		return err
	})
	if err != nil {
		return nil, zkproof.CompatibilitySignals{}, err
	}
	return result, signals, nil
}

// run executes fn on a prover slot. It returns when fn finishes, when ctx is
// done or when the proof timeout expires, whichever comes first. gnark cannot
// abort a running proof, so an abandoned fn keeps its slot until it returns.
func (s *Service) run(ctx context.Context, kind zkproof.CircuitKind, fn func() error) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ProofTimeout())
	defer cancel()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		s.proofsFailed.Add(1)
		return contextError(ctx)
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-s.slots }()
		done <- fn()
	}()

	start := time.Now()
	select {
	case err := <-done:
		if err != nil {
			s.proofsFailed.Add(1)
			return err
		}
		s.proofsGenerated.Add(1)
		s.log.Debug("proof generated", "circuit", kind, "duration", time.Since(start))
		return nil
	case <-ctx.Done():
		s.proofsFailed.Add(1)
		s.log.Warn("proof abandoned", "circuit", kind, "error", ctx.Err())
		return contextError(ctx)
	}
}

// Close stops accepting proof requests. Verification keeps working.
func (s *Service) Close() {
	s.closed.Store(true)
}

// Stats returns the current metrics.
func (s *Service) Stats() Stats {
	return Stats{
		ProofsGenerated: s.proofsGenerated.Load(),
		ProofsFailed:    s.proofsFailed.Load(),
		ProofsVerified:  s.proofsVerified.Load(),
		ProofsRejected:  s.proofsRejected.Load(),
		CacheHits:       s.cacheHits.Load(),
		CacheMisses:     s.cacheMisses.Load(),
	}
}

// PurgeCache drops all cached verification results.
func (s *Service) PurgeCache() {
	s.cache.Purge()
}

func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProofTimeout, err)
	}
	return err
}

func cacheKey(kind zkproof.CircuitKind, proof []byte, signals zkproof.PublicSignals) [sha256.Size]byte {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(kind))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(len(proof)))
	h.Write(buf[:])
	h.Write(proof)
	for _, sig := range signals {
		var b []byte
		if sig != nil {
			b = sig.Bytes()
		}
		// Nil and sign are folded in so nil, 0, -x and x do not collide.
		binary.BigEndian.PutUint64(buf[:], uint64(len(b))<<2|boolBit(sig == nil)<<1|boolBit(sig != nil && sig.Sign() < 0))
		h.Write(buf[:])
		h.Write(b)
	}
	var key [sha256.Size]byte
	h.Sum(key[:0])
	return key
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
