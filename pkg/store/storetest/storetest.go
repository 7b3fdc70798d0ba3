// Package storetest holds the behaviour every counter store must show.
package storetest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/lorameter/pkg/store"
)

// Run exercises a store created by open. reopen, when not nil, must open
// the same underlying data after the first store was closed.
func Run(t *testing.T, open func(t *testing.T) store.CounterStore, reopen func(t *testing.T) store.CounterStore) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.Load(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		v, err := store.LoadOr(ctx, s, "missing", 42)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), v)
	})

	t.Run("save and load", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, store.FCntUp, 7))
		require.NoError(t, s.Save(ctx, store.Sweep, 5999))
		require.NoError(t, s.Save(ctx, store.FCntUp, 8))

		v, err := s.Load(ctx, store.FCntUp)
		require.NoError(t, err)
		assert.Equal(t, uint32(8), v)

		v, err = s.Load(ctx, store.Sweep)
		require.NoError(t, err)
		assert.Equal(t, uint32(5999), v)
	})

	t.Run("full range", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, "max", math.MaxUint32))
		v, err := s.Load(ctx, "max")
		require.NoError(t, err)
		assert.Equal(t, uint32(math.MaxUint32), v)
	})

	if reopen == nil {
		return
	}

	t.Run("survives reopen", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, store.FCntUp, 1234))
		require.NoError(t, s.Close())

		s = reopen(t)
		defer s.Close()

		v, err := s.Load(ctx, store.FCntUp)
		require.NoError(t, err)
		assert.Equal(t, uint32(1234), v)
	})
}
