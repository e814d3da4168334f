package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingScheduler_RunNowKeepsHistory(t *testing.T) {
	s := setupTestHandler(t)
	bs := NewBillingScheduler(s.h.Ledger, nil)

	first := bs.RunNow(context.Background(), "manual")
	second := bs.RunNow(context.Background(), "scheduled")

	runs := bs.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.False(t, runs[0].CompletedAt.Before(runs[0].StartedAt))
}

func TestBillingScheduler_HistoryIsBounded(t *testing.T) {
	s := setupTestHandler(t)
	bs := NewBillingScheduler(s.h.Ledger, nil)

	for i := 0; i < maxRunHistory+5; i++ {
		bs.RunNow(context.Background(), "manual")
	}

	assert.Len(t, bs.Runs(), maxRunHistory)
}

func TestBillingScheduler_StartRunsImmediately(t *testing.T) {
	s := setupTestHandler(t)
	bs := NewBillingScheduler(s.h.Ledger, nil)
	bs.CheckInterval = time.Hour

	bs.Start()
	assert.Eventually(t, func() bool { return len(bs.Runs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	bs.Stop()

	// Stop is idempotent
	bs.Stop()
	assert.Equal(t, "scheduled", bs.Runs()[0].Trigger)
}

func TestBillingScheduler_DisabledDoesNotStart(t *testing.T) {
	s := setupTestHandler(t)
	bs := NewBillingScheduler(s.h.Ledger, nil)
	bs.Enabled = false

	bs.Start()
	defer bs.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bs.Runs())
}
