package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
	"perp-backend/internal/repository"
)

func TestNotifierFansOutToSinks(t *testing.T) {
	n := NewNotifier(testLogger(), NewMetrics(nil), 16)
	log := repository.NewInMemoryEventLog(10)
	n.AddSink(LogSink{Log: log})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Emit(domain.Event{Kind: domain.EventOrderPlaced, Symbol: "BTCUSDT", Message: "order placed"})
	n.Report(domain.EventError, "ETHUSDT", "close failed", fmt.Errorf("wrap: %w", domain.ErrCloseIterationsExceeded))

	require.Eventually(t, func() bool {
		events, _ := log.Recent(ctx, 0)
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	events, _ := log.Recent(ctx, 0)
	assert.Equal(t, domain.EventError, events[0].Kind)
	assert.Equal(t, domain.SeverityFatal, events[0].Severity)
	assert.Equal(t, domain.SeverityInfo, events[1].Severity)
	assert.False(t, events[1].Time.IsZero())
}

func TestNotifierDropsWhenBufferFull(t *testing.T) {
	n := NewNotifier(testLogger(), nil, 1)
	n.Emit(domain.Event{Kind: domain.EventAllocation})
	n.Emit(domain.Event{Kind: domain.EventAllocation})
	assert.Equal(t, int64(1), n.Dropped())
}

func TestSeverityOf(t *testing.T) {
	assert.Equal(t, domain.SeverityInfo, severityOf(nil))
	assert.Equal(t, domain.SeverityFatal, severityOf(domain.ErrUnauthorized))
	assert.Equal(t, domain.SeverityWarn, severityOf(domain.ErrTransient))
	assert.Equal(t, domain.SeverityWarn, severityOf(domain.ErrPositionCapReached))
	assert.Equal(t, domain.SeverityError, severityOf(domain.ErrInvalidOrder))
	assert.Equal(t, "insufficient balance", simplify(fmt.Errorf("place: %w", domain.ErrInsufficientMargin)))
}
