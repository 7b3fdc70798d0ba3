package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/lorameter/pkg/store"
	"github.com/itohio/lorameter/pkg/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.CounterStore {
		return store.NewMemory()
	}, nil)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := store.NewMemory()
	assert.ErrorIs(t, m.Save(ctx, store.Sweep, 1), context.Canceled)
	_, err := m.Load(ctx, store.Sweep)
	assert.ErrorIs(t, err, context.Canceled)
}
