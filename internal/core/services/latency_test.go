package services

import (
	"context"
	"testing"
	"time"

	"rendezlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTable_PersistsLowestPositive(t *testing.T) {
	ctx := context.Background()
	options := newFakeOptions()
	table := NewLatencyTable(options)

	require.NoError(t, table.Update(ctx, "b.example.com", 300*time.Millisecond))
	assert.Equal(t, "b.example.com", options.get(domain.OptionRendezvousServer))

	require.NoError(t, table.Update(ctx, "a.example.com", 100*time.Millisecond))
	assert.Equal(t, "a.example.com", options.get(domain.OptionRendezvousServer))

	// non-positive latencies never win
	require.NoError(t, table.Update(ctx, "c.example.com", 0))
	assert.Equal(t, "a.example.com", table.Preferred(ctx))

	rows := table.Snapshot()
	require.Len(t, rows, 3)
	assert.Equal(t, "c.example.com", rows[0].Host)
	assert.Equal(t, "a.example.com", rows[1].Host)
}

func TestLatencyTable_CompareBeforeWrite(t *testing.T) {
	ctx := context.Background()
	options := newFakeOptions()
	table := NewLatencyTable(options)

	require.NoError(t, table.Update(ctx, "a.example.com", 200*time.Millisecond))
	require.NoError(t, table.Update(ctx, "b.example.com", 200*time.Millisecond))
	require.NoError(t, table.Update(ctx, "a.example.com", 200*time.Millisecond))

	assert.Equal(t, 1, options.setCount(domain.OptionRendezvousServer))
	assert.Equal(t, "a.example.com", options.get(domain.OptionRendezvousServer))
}

func TestLatencyTable_Reset(t *testing.T) {
	ctx := context.Background()
	options := newFakeOptions()
	table := NewLatencyTable(options)

	require.NoError(t, table.Update(ctx, "a.example.com", 200*time.Millisecond))
	table.Reset()
	assert.Empty(t, table.Snapshot())
	// the persisted preference outlives a reset
	assert.Equal(t, "a.example.com", table.Preferred(ctx))
}
