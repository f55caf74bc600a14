package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

const (
	minPickScore        = 70
	portfolioSlots      = 3
	nearLegShare        = 0.2
	noZoneOffsetPercent = 0.5
	biasInterval        = "4h"
	maxLeverageAttempts = 7

	// Reference-asset moves that flip the scanner's bias.
	biasFlip8h = 2.0
	biasFlip4h = 1.5

	// DefaultTrailingIncrement is the trailing stop distance in percent.
	DefaultTrailingIncrement = 0.5
)

// Bias is the portfolio's directional tilt.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// ParseBias reads scanner spellings such as BTC_BULLISH or BEARISH.
func ParseBias(s string) Bias {
	u := strings.ToUpper(s)
	switch {
	case strings.Contains(u, "BULL"):
		return BiasBullish
	case strings.Contains(u, "BEAR"):
		return BiasBearish
	}
	return BiasNeutral
}

// BiasCheck is the reference-asset momentum behind a bias decision.
type BiasCheck struct {
	Server     Bias    `json:"server"`
	Resolved   Bias    `json:"resolved"`
	Overridden bool    `json:"overridden"`
	Change4h   float64 `json:"change4h"`
	Change8h   float64 `json:"change8h"`
}

// ResolveBias flips the server bias when the last three 4h candles of the
// reference asset move against it by more than 2% over 8h or 1.5% over 4h.
// A neutral bias is never overridden.
func ResolveBias(server Bias, candles []domain.Candle) BiasCheck {
	check := BiasCheck{Server: server, Resolved: server}
	if len(candles) < 3 {
		return check
	}
	c := candles[len(candles)-3:]
	if c[0].Close <= 0 || c[1].Close <= 0 {
		return check
	}
	check.Change4h = (c[2].Close - c[1].Close) / c[1].Close * 100
	check.Change8h = (c[2].Close - c[0].Close) / c[0].Close * 100

	switch server {
	case BiasBullish:
		if check.Change8h < -biasFlip8h || check.Change4h < -biasFlip4h {
			check.Resolved, check.Overridden = BiasBearish, true
		}
	case BiasBearish:
		if check.Change8h > biasFlip8h || check.Change4h > biasFlip4h {
			check.Resolved, check.Overridden = BiasBullish, true
		}
	}
	return check
}

// SelectPicks filters both lists to score ≥ 70 minus excluded pairs, takes
// 2L/1S for bullish, 1L/2S for bearish or a random 2/1 split when neutral,
// then tops up to three from the best remaining picks, falling back to picks
// below the score threshold when too few qualify.
func SelectPicks(longs, shorts []domain.ScannerPick, bias Bias, settings domain.Settings, rng *rand.Rand) []domain.ScannerPick {
	seen := make(map[string]bool)
	l := qualify(longs, domain.SideLong, settings, seen)
	s := qualify(shorts, domain.SideShort, settings, seen)

	wantLong, wantShort := 2, 1
	switch bias {
	case BiasBearish:
		wantLong, wantShort = 1, 2
	case BiasNeutral:
		if rng != nil && rng.Intn(2) == 1 {
			wantLong, wantShort = 1, 2
		}
	}

	var picked, rest []domain.ScannerPick
	take := func(list []domain.ScannerPick, n int) {
		if n > len(list) {
			n = len(list)
		}
		picked = append(picked, list[:n]...)
		rest = append(rest, list[n:]...)
	}
	take(l, wantLong)
	take(s, wantShort)

	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Score > rest[j].Score })
	if len(picked)+len(rest) < portfolioSlots {
		rest = append(rest, fallbacks(longs, shorts, settings, seen)...)
	}
	for _, p := range rest {
		if len(picked) >= portfolioSlots {
			break
		}
		picked = append(picked, p)
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Score > picked[j].Score })
	return picked
}

func qualify(list []domain.ScannerPick, side domain.Side, settings domain.Settings, seen map[string]bool) []domain.ScannerPick {
	out := make([]domain.ScannerPick, 0, len(list))
	for _, p := range list {
		if p.Score < minPickScore || settings.IsExcluded(p.Symbol) {
			continue
		}
		p.Symbol = strings.ToUpper(p.Symbol)
		p.Side = side
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	dedup := out[:0]
	for _, p := range out {
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		dedup = append(dedup, p)
	}
	return dedup
}

// fallbacks are the picks scoring below the threshold on either side, best
// first, skipping excluded and already selected symbols.
func fallbacks(longs, shorts []domain.ScannerPick, settings domain.Settings, seen map[string]bool) []domain.ScannerPick {
	var out []domain.ScannerPick
	add := func(list []domain.ScannerPick, side domain.Side) {
		for _, p := range list {
			if p.Score >= minPickScore || settings.IsExcluded(p.Symbol) {
				continue
			}
			p.Symbol = strings.ToUpper(p.Symbol)
			p.Side = side
			out = append(out, p)
		}
	}
	add(longs, domain.SideLong)
	add(shorts, domain.SideShort)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	dedup := out[:0]
	for _, p := range out {
		if seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		dedup = append(dedup, p)
	}
	return dedup
}

// AllocationResult reports what one batch did.
type AllocationResult struct {
	Bias     BiasCheck            `json:"bias"`
	Selected []domain.ScannerPick `json:"selected"`
	Opened   []string             `json:"opened"`
	Closed   []string             `json:"closed"`
	Skipped  map[string]string    `json:"skipped,omitempty"`
	Failed   map[string]string    `json:"failed,omitempty"`
}

// PortfolioAllocator opens auto-mode allocations from scanner batches.
type PortfolioAllocator struct {
	core      *tradingCore
	market    domain.MarketData
	reference string
	closeFn   func(ctx context.Context, symbol, reason string) error
	log       *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

func newPortfolioAllocator(core *tradingCore, market domain.MarketData, reference string, rng *rand.Rand,
	closeFn func(ctx context.Context, symbol, reason string) error) *PortfolioAllocator {
	return &PortfolioAllocator{
		core:      core,
		market:    market,
		reference: reference,
		closeFn:   closeFn,
		rng:       rng,
		log:       core.log.WithField("component", "allocator"),
	}
}

// Allocate closes invalidated symbols, resolves bias and opens new picks into
// the free slots.
func (a *PortfolioAllocator) Allocate(ctx context.Context, batch domain.ScannerBatch) (AllocationResult, error) {
	res := AllocationResult{Skipped: map[string]string{}, Failed: map[string]string{}}
	settings := a.core.Settings()

	for _, sym := range batch.Invalidated {
		sym = strings.ToUpper(sym)
		if _, active := a.core.activeSymbols()[sym]; !active {
			continue
		}
		if err := a.closeFn(ctx, sym, "invalidated"); err != nil {
			res.Failed[sym] = simplify(err)
			continue
		}
		res.Closed = append(res.Closed, sym)
	}

	res.Bias = a.bias(ctx, batch)
	a.rngMu.Lock()
	res.Selected = SelectPicks(batch.TopLongs, batch.TopShorts, res.Bias.Resolved, settings, a.rng)
	a.rngMu.Unlock()

	active := a.core.activeSymbols()
	slots := portfolioSlots - len(active)
	for _, pick := range res.Selected {
		if _, held := active[pick.Symbol]; held {
			res.Skipped[pick.Symbol] = "already active"
			continue
		}
		if slots <= 0 {
			res.Skipped[pick.Symbol] = "no free slot"
			continue
		}
		if err := a.open(ctx, pick, settings); err != nil {
			res.Failed[pick.Symbol] = simplify(err)
			a.core.notifier.Report(domain.EventAllocation, pick.Symbol, "allocation failed", err)
			continue
		}
		slots--
		res.Opened = append(res.Opened, pick.Symbol)
	}

	a.core.notifier.Emit(domain.Event{
		Kind:    domain.EventAllocation,
		Message: "scanner batch allocated",
		Fields: map[string]string{
			"bias":       string(res.Bias.Resolved),
			"overridden": fmt.Sprint(res.Bias.Overridden),
			"opened":     strings.Join(res.Opened, ","),
			"closed":     strings.Join(res.Closed, ","),
		},
	})
	return res, nil
}

func (a *PortfolioAllocator) bias(ctx context.Context, batch domain.ScannerBatch) BiasCheck {
	server := BiasNeutral
	var top *domain.ScannerPick
	for _, list := range [][]domain.ScannerPick{batch.TopLongs, batch.TopShorts} {
		for i := range list {
			if top == nil || list[i].Score > top.Score {
				top = &list[i]
			}
		}
	}
	if top != nil {
		server = ParseBias(top.MarketBias)
	}
	if server == BiasNeutral || a.market == nil {
		return BiasCheck{Server: server, Resolved: server}
	}

	candles, err := a.market.GetCandles(ctx, a.reference, biasInterval, 3)
	if err != nil {
		a.log.WithError(err).WithField("symbol", a.reference).Warn("bias candles unavailable, keeping server bias")
		return BiasCheck{Server: server, Resolved: server}
	}
	check := ResolveBias(server, candles)
	if check.Overridden {
		a.log.WithFields(logrus.Fields{
			"server":   check.Server,
			"resolved": check.Resolved,
			"change4h": check.Change4h,
			"change8h": check.Change8h,
		}).Info("bias overridden by reference momentum")
	}
	return check
}

// splitPrices returns the near (20%) and better (80%) limit prices.
func splitPrices(pick domain.ScannerPick) (near, better float64) {
	lo, hi := pick.EntryZone[0], pick.EntryZone[1]
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo > 0 && hi > 0 {
		if pick.Side == domain.SideShort {
			return lo, hi
		}
		return hi, lo
	}
	offset := pick.Price * noZoneOffsetPercent / 100
	if pick.Side == domain.SideShort {
		return pick.Price, pick.Price + offset
	}
	return pick.Price, pick.Price - offset
}

// open places the split entry, halving leverage on margin or notional
// rejections until the near leg is accepted. Rejection at 1x is fatal.
func (a *PortfolioAllocator) open(ctx context.Context, pick domain.ScannerPick, settings domain.Settings) error {
	if !a.core.realTrading {
		return domain.ErrRealTradingDisabled
	}
	if pick.Price <= 0 && a.market != nil {
		if mark, err := a.market.GetMarkPrice(ctx, pick.Symbol); err == nil {
			pick.Price = mark
		}
	}
	near, better := splitPrices(pick)
	if near <= 0 {
		return fmt.Errorf("%w: no price for %s", domain.ErrInvalidOrder, pick.Symbol)
	}

	lot, err := a.core.ex.GetMarketLotSize(ctx, pick.Symbol)
	if err != nil {
		return err
	}
	brackets, err := a.core.ex.GetLeverageBracket(ctx, pick.Symbol)
	if err != nil {
		return err
	}

	margin := settings.Margin()
	lev := ResolveLeverage(settings.Leverage, margin, brackets)

	var (
		nearOrder *domain.Order
		nearQty   float64
		betterQty float64
		lastErr   error
	)
	for attempt := 1; attempt <= maxLeverageAttempts; attempt++ {
		total := FloorToStep(margin*float64(lev)/near, lot.StepSize)
		nearQty = FloorToStep(total*nearLegShare, lot.StepSize)
		betterQty = FloorToStep(total-nearQty, lot.StepSize)
		if nearQty < lot.MinQty || betterQty < lot.MinQty {
			nearQty, betterQty = total, 0
		}
		if err := CheckLot(nearQty, *lot); err != nil {
			return fmt.Errorf("%s: %w", pick.Symbol, err)
		}

		lastErr = a.core.ex.SetLeverage(ctx, pick.Symbol, lev)
		if lastErr == nil {
			nearOrder, lastErr = a.core.placeEntry(ctx, a.leg(pick, near, nearQty, settings))
		}
		if lastErr == nil {
			break
		}
		if !domain.IsMarginRejection(lastErr) {
			return lastErr
		}
		if lev <= 1 {
			break
		}
		a.log.WithFields(logrus.Fields{"symbol": pick.Symbol, "leverage": lev}).
			WithError(lastErr).Warn("margin rejected, halving leverage")
		lev /= 2
		if lev < 1 {
			lev = 1
		}
	}
	if nearOrder == nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrLeverageExhausted, pick.Symbol, lastErr)
	}

	orderIDs := []int64{nearOrder.OrderID}
	if betterQty > 0 {
		betterOrder, err := a.core.placeEntry(ctx, a.leg(pick, better, betterQty, settings))
		if err != nil {
			a.log.WithError(err).WithField("symbol", pick.Symbol).Warn("better-price leg rejected, keeping near leg")
		} else {
			orderIDs = append(orderIDs, betterOrder.OrderID)
		}
	}

	a.core.portfolio.Put(&domain.PortfolioPosition{
		Position: domain.Position{
			Symbol:          pick.Symbol,
			Side:            pick.Side,
			TakeProfit:      settings.TakeProfit,
			StopLoss:        settings.StopLoss,
			EntryConfidence: confidenceFromScore(pick.Score),
			Strategy:        domain.StrategyPortfolioAuto,
		},
		Score:             pick.Score,
		State:             domain.PortfolioStatePending,
		EntryZone:         pick.EntryZone,
		InvalidationPrice: pick.InvalidationPrice,
		StructureStopLoss: pick.StructureStopLoss,
		Leverage:          lev,
		OrderIDs:          orderIDs,
		ServerTP:          pick.TakeProfit,
		TrailingIncrement: DefaultTrailingIncrement,
	})
	a.core.updateGauges()

	a.log.WithFields(logrus.Fields{
		"symbol":   pick.Symbol,
		"side":     pick.Side,
		"leverage": lev,
		"orders":   len(orderIDs),
		"score":    pick.Score,
	}).Info("portfolio position opened")
	return nil
}

func (a *PortfolioAllocator) leg(pick domain.ScannerPick, price, qty float64, settings domain.Settings) entryOrder {
	return entryOrder{
		symbol:     pick.Symbol,
		side:       pick.Side,
		orderType:  domain.OrderTypeLimit,
		price:      price,
		quantity:   qty,
		takeProfit: settings.TakeProfit,
		stopLoss:   settings.StopLoss,
		confidence: confidenceFromScore(pick.Score),
		noTimeout:  true,
		strategy:   domain.StrategyPortfolioAuto,
		prefix:     "PA",
	}
}

func confidenceFromScore(score float64) domain.Confidence {
	switch {
	case score >= 85:
		return domain.ConfidenceHigh
	case score >= minPickScore:
		return domain.ConfidenceMedium
	}
	return domain.ConfidenceLow
}
