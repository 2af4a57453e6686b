package cryptox

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomNonces_SizeAndDistinct(t *testing.T) {
	t.Parallel()

	src := NewRandomNonces()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		n, err := src.NextNonce()
		require.NoError(t, err)
		require.Len(t, n, NonceSize)
		_, dup := seen[string(n)]
		require.False(t, dup)
		seen[string(n)] = struct{}{}
	}
}

func TestNonceSequence_MonotonicAcrossBlocks(t *testing.T) {
	t.Parallel()

	seq := NewNonceSequence(&MemoryReserver{}, 4)
	for want := uint64(0); want < 10; want++ {
		require.Equal(t, want, seq.Next())
		n, err := seq.NextNonce()
		require.NoError(t, err)
		require.Len(t, n, NonceSize)
		assert.Equal(t, []byte{0, 0, 0, 0}, n[:4])
		assert.Equal(t, want, binary.BigEndian.Uint64(n[4:]))
	}
}

func TestNonceSequence_ResumesFromReserver(t *testing.T) {
	t.Parallel()

	// A restarted process gets a fresh sequence but the same persistent reserver.
	r := &MemoryReserver{}
	first := NewNonceSequence(r, 8)
	_, err := first.NextNonce()
	require.NoError(t, err)

	second := NewNonceSequence(r, 8)
	n, err := second.NextNonce()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), binary.BigEndian.Uint64(n[4:]))
}

func TestNonceSequence_ConcurrentUnique(t *testing.T) {
	t.Parallel()

	seq := NewNonceSequence(&MemoryReserver{}, 16)
	const workers, per = 8, 250

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				n, err := seq.NextNonce()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[binary.BigEndian.Uint64(n[4:])] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
	assert.Equal(t, uint64(workers*per), seq.Next())
}

func TestNonceSequence_ReserverErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("redis down")
	seq := NewNonceSequence(ReserverFunc(func(context.Context, uint64) (uint64, error) {
		return 0, boom
	}), 4)

	_, err := seq.NextNonce()
	require.ErrorIs(t, err, ErrNonceReserve)
	require.ErrorIs(t, err, boom)
}

func TestNonceSequence_RejectsRewindingReserver(t *testing.T) {
	t.Parallel()

	calls := 0
	seq := NewNonceSequence(ReserverFunc(func(context.Context, uint64) (uint64, error) {
		calls++
		return 0, nil
	}), 1)

	_, err := seq.NextNonce()
	require.NoError(t, err)
	_, err = seq.NextNonce()
	require.ErrorIs(t, err, ErrNonceReserve)
	assert.Equal(t, 2, calls)
}

func TestNonceSequence_Exhaustion(t *testing.T) {
	t.Parallel()

	seq := NewNonceSequence(&MemoryReserver{next: math.MaxUint64 - 2}, 4)
	_, err := seq.NextNonce()
	require.ErrorIs(t, err, ErrNonceExhausted)
}

func TestNonceSequence_NextAfterSpentBlock(t *testing.T) {
	t.Parallel()

	starts := []uint64{0, 100}
	r := ReserverFunc(func(_ context.Context, _ uint64) (uint64, error) {
		s := starts[0]
		starts = starts[1:]
		return s, nil
	})
	seq := NewNonceSequence(r, 2)

	for i := 0; i < 2; i++ {
		_, err := seq.NextNonce()
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), seq.Next(), "spent block reports its end")

	n, err := seq.NextNonce()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), binary.BigEndian.Uint64(n[NonceSize-8:]))
	assert.Equal(t, uint64(101), seq.Next())
}
