package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"perp-backend/internal/domain"
)

// FloorToStep rounds qty down to a multiple of step. A zero step returns qty.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(s).Floor().Mul(s).InexactFloat64()
}

// MaxLeverageFor returns the bracket leverage for a notional. Notional beyond
// the last cap gets the last (lowest) bracket. Zero means no brackets known.
func MaxLeverageFor(brackets []domain.LeverageBracket, notional float64) int {
	if len(brackets) == 0 {
		return 0
	}
	sorted := make([]domain.LeverageBracket, len(brackets))
	copy(sorted, brackets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NotionalFloor < sorted[j].NotionalFloor })

	for _, b := range sorted {
		if notional >= b.NotionalFloor && (b.NotionalCap <= 0 || notional < b.NotionalCap) {
			return b.InitialLeverage
		}
	}
	return sorted[len(sorted)-1].InitialLeverage
}

// ResolveLeverage caps the wanted leverage at the bracket maximum for the
// notional it produces. Lowering leverage shrinks notional, so it iterates
// until the pair is consistent.
func ResolveLeverage(wanted int, margin float64, brackets []domain.LeverageBracket) int {
	lev := wanted
	if lev < 1 {
		lev = 1
	}
	for i := 0; i < 16; i++ {
		limit := MaxLeverageFor(brackets, margin*float64(lev))
		if limit <= 0 || lev <= limit {
			break
		}
		lev = limit
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// EntrySize is a sized entry: quantity on the lot grid and the leverage it assumes.
type EntrySize struct {
	Quantity float64
	Leverage int
	Notional float64
	Lot      domain.LotSize
}

// Sizer turns margin and leverage into an order quantity within exchange filters.
type Sizer struct {
	ex domain.ExchangeClient
}

func NewSizer(ex domain.ExchangeClient) *Sizer {
	return &Sizer{ex: ex}
}

// Size computes quantity = margin × leverage / price on the symbol's step grid.
// Quantities outside [minQty, maxQty] are rejected, never truncated.
func (s *Sizer) Size(ctx context.Context, symbol string, margin float64, leverage int, price float64) (EntrySize, error) {
	if price <= 0 {
		return EntrySize{}, fmt.Errorf("%w: no price for %s", domain.ErrInvalidOrder, symbol)
	}
	lot, err := s.ex.GetMarketLotSize(ctx, symbol)
	if err != nil {
		return EntrySize{}, err
	}
	brackets, err := s.ex.GetLeverageBracket(ctx, symbol)
	if err != nil {
		return EntrySize{}, err
	}

	lev := ResolveLeverage(leverage, margin, brackets)
	notional := margin * float64(lev)
	qty := FloorToStep(notional/price, lot.StepSize)

	size := EntrySize{Quantity: qty, Leverage: lev, Notional: notional, Lot: *lot}
	if err := CheckLot(qty, *lot); err != nil {
		return size, fmt.Errorf("%s: %w", symbol, err)
	}
	return size, nil
}

// CheckLot validates qty against the lot filter.
func CheckLot(qty float64, lot domain.LotSize) error {
	if qty <= 0 || (lot.MinQty > 0 && qty < lot.MinQty) {
		return fmt.Errorf("%w: quantity %v below minimum %v", domain.ErrInvalidOrder, qty, lot.MinQty)
	}
	if lot.MaxQty > 0 && qty > lot.MaxQty {
		return fmt.Errorf("%w: quantity %v above maximum %v", domain.ErrInvalidOrder, qty, lot.MaxQty)
	}
	return nil
}

// PnLPercent is the raw price move in the position's favour, in percent.
func PnLPercent(side domain.Side, entry, mark float64) float64 {
	if entry <= 0 {
		return 0
	}
	move := (mark - entry) / entry * 100
	if side == domain.SideShort {
		return -move
	}
	return move
}

// WeightedEntry merges a fill into an existing average entry.
func WeightedEntry(entry, qty, fillPrice, fillQty float64) float64 {
	total := qty + fillQty
	if total <= 0 {
		return fillPrice
	}
	e := decimal.NewFromFloat(entry).Mul(decimal.NewFromFloat(qty))
	f := decimal.NewFromFloat(fillPrice).Mul(decimal.NewFromFloat(fillQty))
	return e.Add(f).Div(decimal.NewFromFloat(total)).InexactFloat64()
}
