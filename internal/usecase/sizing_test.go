package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
)

func TestSizerFloorsToStep(t *testing.T) {
	ex := newFakeExchange()
	ex.lots["ETHUSDT"] = domain.LotSize{MinQty: 0.01, MaxQty: 100, StepSize: 0.01}

	size, err := NewSizer(ex).Size(context.Background(), "ETHUSDT", 100, 10, 3000)
	require.NoError(t, err)
	assert.Equal(t, 0.33, size.Quantity)
	assert.Equal(t, 10, size.Leverage)
}

func TestSizerRejectsEntryAboveMaxQty(t *testing.T) {
	ex := newFakeExchange()
	ex.lots["DOGEUSDT"] = domain.LotSize{MinQty: 1, MaxQty: 100, StepSize: 1}

	size, err := NewSizer(ex).Size(context.Background(), "DOGEUSDT", 100, 10, 1)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Contains(t, err.Error(), "above maximum")
	assert.Equal(t, 1000.0, size.Quantity, "the quantity is reported, not truncated")
}

func TestSizerRejectsEntryBelowMinQty(t *testing.T) {
	ex := newFakeExchange()
	ex.lots["BTCUSDT"] = domain.LotSize{MinQty: 0.001, MaxQty: 100, StepSize: 0.001}

	_, err := NewSizer(ex).Size(context.Background(), "BTCUSDT", 1, 1, 60000)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
}
