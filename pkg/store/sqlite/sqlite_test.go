package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/lorameter/pkg/store"
	"github.com/itohio/lorameter/pkg/store/storetest"
)

func TestStore(t *testing.T) {
	var path string
	open := func(t *testing.T) store.CounterStore {
		path = filepath.Join(t.TempDir(), "counters.db")
		s, err := Open(context.Background(), path)
		require.NoError(t, err)
		return s
	}
	reopen := func(t *testing.T) store.CounterStore {
		s, err := Open(context.Background(), path)
		require.NoError(t, err)
		return s
	}

	storetest.Run(t, open, reopen)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "counters.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Load(context.Background(), store.FCntUp)
	assert.ErrorIs(t, err, errClosed)
	assert.ErrorIs(t, s.Save(context.Background(), store.FCntUp, 1), errClosed)
}
