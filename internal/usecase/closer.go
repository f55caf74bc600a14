package usecase

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

const (
	maxCloseIterations = 50
	closeChunkRatio    = 0.95
	closeDustRatio     = 0.1
)

// CloseResult describes a completed close.
type CloseResult struct {
	Symbol        string      `json:"symbol"`
	Side          domain.Side `json:"side"`
	InitialAmount float64     `json:"initialAmount"`
	Remaining     float64     `json:"remaining"`
	Chunks        []float64   `json:"chunks"`
	OrderIDs      []int64     `json:"orderIds"`
	EntryPrice    float64     `json:"entryPrice"`
	ExitPrice     float64     `json:"exitPrice"`
	NetPnL        float64     `json:"netPnl"`
}

// Closed is the quantity sent across all chunks.
func (r CloseResult) Closed() float64 {
	sum := decimal.Zero
	for _, c := range r.Chunks {
		sum = sum.Add(decimal.NewFromFloat(c))
	}
	return sum.InexactFloat64()
}

// PositionCloser liquidates a position with reduce-only market orders that
// respect the symbol's market lot size.
type PositionCloser struct {
	ex  domain.ExchangeClient
	log *logrus.Entry
}

func NewPositionCloser(ex domain.ExchangeClient, log *logrus.Entry) *PositionCloser {
	return &PositionCloser{ex: ex, log: log.WithField("component", "closer")}
}

// Close reads the exchange position amount and sends chunks until what is
// left is below 10% of the minimum quantity. side may be empty, in which case
// the sign of the exchange amount decides.
func (c *PositionCloser) Close(ctx context.Context, symbol string, side domain.Side) (CloseResult, error) {
	res := CloseResult{Symbol: symbol, Side: side}

	pos, err := c.ex.GetPosition(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("get position %s: %w", symbol, err)
	}
	amount := math.Abs(pos.PositionAmt)
	res.InitialAmount = amount
	res.Remaining = amount
	res.EntryPrice = pos.EntryPrice
	res.ExitPrice = pos.MarkPrice
	res.NetPnL = pos.UnRealizedProfit
	if amount == 0 {
		return res, nil
	}
	if res.Side != domain.SideLong && res.Side != domain.SideShort {
		res.Side = domain.SideLong
		if pos.PositionAmt < 0 {
			res.Side = domain.SideShort
		}
	}
	exitSide := res.Side.Opposite().OrderSide()

	lot, err := c.ex.GetMarketLotSize(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("get lot size %s: %w", symbol, err)
	}

	remaining := amount
	for i := 0; !isDust(remaining, lot.MinQty); i++ {
		if i >= maxCloseIterations {
			res.Remaining = remaining
			return res, fmt.Errorf("%w: %s still has %v after %d orders",
				domain.ErrCloseIterationsExceeded, symbol, remaining, maxCloseIterations)
		}

		chunk := nextChunk(remaining, *lot)
		order, err := c.ex.PlaceOrder(ctx, domain.OrderRequest{
			Symbol:     symbol,
			Side:       exitSide,
			Type:       domain.OrderTypeMarket,
			Quantity:   chunk,
			ReduceOnly: true,
		})
		if err != nil {
			res.Remaining = remaining
			return res, fmt.Errorf("close chunk %v %s: %w", chunk, symbol, err)
		}
		res.Chunks = append(res.Chunks, chunk)
		res.OrderIDs = append(res.OrderIDs, order.OrderID)
		if order.AvgPrice > 0 {
			res.ExitPrice = order.AvgPrice
		}
		c.log.WithFields(logrus.Fields{
			"symbol":  symbol,
			"orderId": order.OrderID,
			"chunk":   chunk,
			"iter":    i + 1,
		}).Debug("chunk placed")

		after, err := c.ex.GetPosition(ctx, symbol)
		if err != nil {
			res.Remaining = remaining
			return res, fmt.Errorf("re-query position %s: %w", symbol, err)
		}
		// A flipped sign means the position is gone; reduce-only cannot open.
		if after.PositionAmt == 0 || (after.PositionAmt > 0) != (pos.PositionAmt > 0) {
			remaining = 0
			break
		}
		remaining = math.Abs(after.PositionAmt)
	}

	res.Remaining = remaining
	c.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"side":   res.Side,
		"chunks": len(res.Chunks),
		"amount": amount,
	}).Info("position closed")
	return res, nil
}

// nextChunk sizes one close order. The whole remainder goes in one order when
// it fits under maxQty; otherwise 95% of maxQty on the step grid, falling back
// to the exact remainder if that would undercut minQty.
func nextChunk(remaining float64, lot domain.LotSize) float64 {
	if lot.MaxQty <= 0 || remaining <= lot.MaxQty {
		return remaining
	}
	chunk := math.Min(remaining, lot.MaxQty*closeChunkRatio)
	chunk = FloorToStep(chunk, lot.StepSize)
	if chunk < lot.MinQty || chunk <= 0 {
		return remaining
	}
	return chunk
}

func isDust(remaining, minQty float64) bool {
	if minQty <= 0 {
		return remaining <= 0
	}
	return remaining < minQty*closeDustRatio
}
