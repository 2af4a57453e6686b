package cryptox

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"time"
)

// NonceSource hands out AES-GCM nonces. Implementations must never return
// the same nonce twice for the lifetime of the key they are paired with.
type NonceSource interface {
	NextNonce() ([]byte, error)
}

// RandomNonces draws a fresh 96-bit nonce from a CSPRNG on every call.
type RandomNonces struct {
	r io.Reader
}

// NewRandomNonces returns a RandomNonces reading from crypto/rand.
func NewRandomNonces() *RandomNonces {
	return &RandomNonces{r: rand.Reader}
}

func (n *RandomNonces) NextNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(n.r, nonce); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	return nonce, nil
}

// Reserver hands out exclusive blocks of counter values. A block
// [start, start+n) returned once is never returned again, including across
// process restarts, so implementations must persist the high-water mark
// before returning.
type Reserver interface {
	Reserve(ctx context.Context, n uint64) (start uint64, err error)
}

// ReserverFunc adapts a plain function to the Reserver interface.
type ReserverFunc func(ctx context.Context, n uint64) (uint64, error)

func (f ReserverFunc) Reserve(ctx context.Context, n uint64) (uint64, error) {
	return f(ctx, n)
}

// MemoryReserver keeps the high-water mark in process memory only. It is
// safe only for keys that do not outlive the process.
type MemoryReserver struct {
	mu   sync.Mutex
	next uint64
}

func (m *MemoryReserver) Reserve(_ context.Context, n uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > math.MaxUint64-m.next {
		return 0, ErrNonceExhausted
	}
	start := m.next
	m.next += n
	return start, nil
}

const (
	// DefaultNonceBlock is the number of counter values reserved per round trip
	// to the Reserver.
	DefaultNonceBlock = 1024

	defaultReserveTimeout = 5 * time.Second
)

// NonceSequence is a counter-based NonceSource. The counter lives as long as
// the sequence and advances under a single lock before its value is used.
//
// Nonce layout: 4 zero bytes || 8-byte big-endian counter.
type NonceSequence struct {
	mu       sync.Mutex
	reserver Reserver
	block    uint64
	timeout  time.Duration

	next  uint64
	limit uint64
}

// NewNonceSequence creates a sequence that reserves block counter values at a
// time from r. A zero block falls back to DefaultNonceBlock.
func NewNonceSequence(r Reserver, block uint64) *NonceSequence {
	if block == 0 {
		block = DefaultNonceBlock
	}
	return &NonceSequence{
		reserver: r,
		block:    block,
		timeout:  defaultReserveTimeout,
	}
}

func (s *NonceSequence) NextNonce() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == s.limit {
		if err := s.refill(); err != nil {
			return nil, err
		}
	}

	counter := s.next
	s.next++

	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], counter)
	return nonce, nil
}

// Next reports the counter value after the last one handed out. Once the
// current block is spent this is the block's end, and NextNonce will continue
// from wherever the next reservation starts.
func (s *NonceSequence) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *NonceSequence) refill() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start, err := s.reserver.Reserve(ctx, s.block)
	if err != nil {
		if errors.Is(err, ErrNonceExhausted) {
			return err
		}
		return errors.Join(ErrNonceReserve, err)
	}
	if s.block > math.MaxUint64-start {
		return ErrNonceExhausted
	}
	if start < s.limit {
		// a reserver must never hand back values below what we already used
		return ErrNonceReserve
	}

	s.next, s.limit = start, start+s.block
	return nil
}
