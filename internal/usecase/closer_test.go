package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
)

func TestCloseSplitsAboveMaxQty(t *testing.T) {
	ex := newFakeExchange()
	ex.lots["XUSDT"] = domain.LotSize{MinQty: 1, MaxQty: 10, StepSize: 1}
	ex.setPosition("XUSDT", 12.7, 2, 2.1)

	res, err := NewPositionCloser(ex, testLogger()).Close(context.Background(), "XUSDT", domain.SideLong)
	require.NoError(t, err)

	assert.Equal(t, []float64{9, 3.7}, res.Chunks)
	assert.Equal(t, 12.7, res.InitialAmount)
	assert.Zero(t, res.Remaining)
	assert.LessOrEqual(t, res.Closed(), 12.7)

	placed := ex.placedOrders()
	require.Len(t, placed, 2)
	for _, o := range placed {
		assert.True(t, o.ReduceOnly)
		assert.Equal(t, "SELL", o.Side)
		assert.Equal(t, domain.OrderTypeMarket, o.Type)
	}
}

func TestCloseShortInfersSideFromAmount(t *testing.T) {
	ex := newFakeExchange()
	ex.setPosition("ETHUSDT", -3, 2000, 1990)

	res, err := NewPositionCloser(ex, testLogger()).Close(context.Background(), "ETHUSDT", "")
	require.NoError(t, err)

	assert.Equal(t, domain.SideShort, res.Side)
	assert.Equal(t, []float64{3}, res.Chunks)
	assert.Equal(t, "BUY", ex.placedOrders()[0].Side)
}

func TestCloseWithoutPositionPlacesNothing(t *testing.T) {
	ex := newFakeExchange()

	res, err := NewPositionCloser(ex, testLogger()).Close(context.Background(), "BTCUSDT", domain.SideLong)
	require.NoError(t, err)
	assert.Zero(t, res.InitialAmount)
	assert.Zero(t, ex.placedCount())
}

func TestCloseGivesUpAfterIterationLimit(t *testing.T) {
	ex := newFakeExchange()
	ex.ignoreReduce = true
	ex.setPosition("BTCUSDT", 5, 100, 100)

	_, err := NewPositionCloser(ex, testLogger()).Close(context.Background(), "BTCUSDT", domain.SideLong)
	require.ErrorIs(t, err, domain.ErrCloseIterationsExceeded)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, maxCloseIterations, ex.placedCount())
}

func TestNextChunk(t *testing.T) {
	tests := []struct {
		name      string
		remaining float64
		lot       domain.LotSize
		want      float64
	}{
		{"fits under max", 7.3, domain.LotSize{MinQty: 1, MaxQty: 10, StepSize: 1}, 7.3},
		{"floored 95 percent of max", 12.7, domain.LotSize{MinQty: 1, MaxQty: 10, StepSize: 1}, 9},
		{"fine step", 250, domain.LotSize{MinQty: 0.001, MaxQty: 100, StepSize: 0.001}, 95},
		{"floor below min falls back to remaining", 20, domain.LotSize{MinQty: 9.6, MaxQty: 10, StepSize: 1}, 20},
		{"no max", 1e6, domain.LotSize{MinQty: 1, StepSize: 1}, 1e6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextChunk(tt.remaining, tt.lot))
		})
	}
}

func TestIsDust(t *testing.T) {
	assert.True(t, isDust(0.05, 1))
	assert.False(t, isDust(0.1, 1))
	assert.True(t, isDust(0, 0))
	assert.False(t, isDust(0.0001, 0))
}
