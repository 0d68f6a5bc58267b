package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrConfigMutated reports that the frozen configuration no longer
// matches its freeze-time checksum.
var ErrConfigMutated = errors.New("frozen configuration was mutated")

// Frozen is the immutable view of a validated Config. The underlying
// record is private and every accessor returns a value copy, so callers
// cannot reach the frozen state; the checksum catches anything that
// does (reflection, unsafe, a bug in this package).
type Frozen struct {
	cfg      Config
	checksum string
	frozenAt time.Time
}

// Freeze validates cfg, snapshots it and seals it behind a checksum.
func Freeze(cfg *Config) (*Frozen, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cannot freeze invalid config: %w", err)
	}
	sum, err := checksumOf(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot checksum config: %w", err)
	}
	return &Frozen{cfg: *cfg, checksum: sum, frozenAt: time.Now()}, nil
}

func checksumOf(cfg *Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum and fails if the frozen record drifted
// from its freeze-time state.
func (f *Frozen) Verify() error {
	sum, err := checksumOf(&f.cfg)
	if err != nil {
		return fmt.Errorf("checksum recompute failed: %w", err)
	}
	if sum != f.checksum {
		return fmt.Errorf("%w: checksum %s != frozen %s", ErrConfigMutated, sum[:12], f.checksum[:12])
	}
	return nil
}

// Checksum returns the freeze-time checksum (hex).
func (f *Frozen) Checksum() string { return f.checksum }

// FrozenAt returns when the configuration was sealed.
func (f *Frozen) FrozenAt() time.Time { return f.frozenAt }

// Snapshot returns a full value copy of the configuration.
func (f *Frozen) Snapshot() Config { return f.cfg }

func (f *Frozen) Server() ServerConfig       { return f.cfg.Server }
func (f *Frozen) Engine() EngineConfig       { return f.cfg.Engine }
func (f *Frozen) Gates() GatesConfig         { return f.cfg.Gates }
func (f *Frozen) Providers() ProvidersConfig { return f.cfg.Providers }
func (f *Frozen) Fallbacks() FallbacksConfig { return f.cfg.Fallbacks }
func (f *Frozen) Envelope() EnvelopeConfig   { return f.cfg.Envelope }
func (f *Frozen) Storage() StorageConfig     { return f.cfg.Storage }
func (f *Frozen) Logging() LoggingConfig     { return f.cfg.Logging }

// Verifier periodically re-verifies a Frozen record and counts
// violations. It is advisory: a violation is logged and surfaced in
// health, never fatal in production.
type Verifier struct {
	frozen   *Frozen
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	running bool

	violations atomic.Int64
	lastError  atomic.Value // string
}

// NewVerifier builds a verifier for f. Start launches the loop.
func NewVerifier(f *Frozen, interval time.Duration) *Verifier {
	return &Verifier{frozen: f, interval: interval}
}

// Start launches the periodic verification goroutine. Repeated calls
// are no-ops.
func (v *Verifier) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return
	}
	v.running = true
	v.stop = make(chan struct{})

	go func(stop chan struct{}) {
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				v.check()
			case <-stop:
				return
			}
		}
	}(v.stop)
}

// Stop halts the verification goroutine. Safe to call repeatedly.
func (v *Verifier) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.running {
		return
	}
	close(v.stop)
	v.running = false
}

func (v *Verifier) check() {
	if err := v.frozen.Verify(); err != nil {
		v.violations.Add(1)
		v.lastError.Store(err.Error())
		log.Error().Err(err).Int64("violations", v.violations.Load()).
			Msg("frozen config verification failed")
	}
}

// Violations returns how many verification failures have been seen.
func (v *Verifier) Violations() int64 { return v.violations.Load() }

// LastError returns the most recent violation message, if any.
func (v *Verifier) LastError() string {
	if s, ok := v.lastError.Load().(string); ok {
		return s
	}
	return ""
}
