package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"perp-backend/internal/domain"
)

// IntakeAction is what the handler did with a signal.
type IntakeAction string

const (
	IntakeSkip   IntakeAction = "skip"
	IntakeReject IntakeAction = "reject"
	IntakeKeep   IntakeAction = "keep"
	IntakeCancel IntakeAction = "cancel"
	IntakeRefill IntakeAction = "refill"
	IntakeOpen   IntakeAction = "open"
	IntakeExit   IntakeAction = "exit"
)

// IntakeResult is the outcome of handling one signal.
type IntakeResult struct {
	Action   IntakeAction  `json:"action"`
	Reason   string        `json:"reason,omitempty"`
	Order    *domain.Order `json:"order,omitempty"`
	Canceled []int64       `json:"canceled,omitempty"`
}

// StrategyDescriptor is what differs between strategy families: the client
// order id prefix and an optional veto that returns a reason to skip.
type StrategyDescriptor struct {
	Kind     domain.StrategyKind
	IDPrefix string
	Veto     func(sig domain.Signal) string
}

func vetoConflictedTrend(sig domain.Signal) string {
	if sig.TrendAlignment == domain.TrendConflicted {
		return "trend alignment conflicted"
	}
	return ""
}

func vetoImbalanceAgainstSide(sig domain.Signal) string {
	if (sig.Side == domain.SideLong && sig.Imbalance < 0) || (sig.Side == domain.SideShort && sig.Imbalance > 0) {
		return "order book imbalance against side"
	}
	return ""
}

// DefaultDescriptors covers the inbound strategy families.
func DefaultDescriptors() []StrategyDescriptor {
	return []StrategyDescriptor{
		{Kind: domain.StrategyRange, IDPrefix: "RNG"},
		{Kind: domain.StrategyMomentum, IDPrefix: "MOM", Veto: vetoConflictedTrend},
		{Kind: domain.StrategyMomentumX, IDPrefix: "MX", Veto: vetoConflictedTrend},
		{Kind: domain.StrategyOrderBook, IDPrefix: "OB", Veto: vetoImbalanceAgainstSide},
		{Kind: domain.StrategyPortfolioAuto, IDPrefix: "PA"},
	}
}

// IntakeHandler turns a strategy signal into skip, keep, replace or open.
type IntakeHandler struct {
	core *tradingCore
	desc StrategyDescriptor
	log  *logrus.Entry
}

func newIntakeHandler(core *tradingCore, desc StrategyDescriptor) *IntakeHandler {
	return &IntakeHandler{
		core: core,
		desc: desc,
		log:  core.log.WithFields(logrus.Fields{"component": "intake", "strategy": desc.Kind}),
	}
}

// Handle never writes the position store; fills reach it through the order poll.
func (h *IntakeHandler) Handle(ctx context.Context, sig domain.Signal) (IntakeResult, error) {
	if sig.Side != domain.SideLong && sig.Side != domain.SideShort {
		return IntakeResult{Action: IntakeSkip, Reason: "neutral signal"}, nil
	}
	if h.desc.Veto != nil {
		if reason := h.desc.Veto(sig); reason != "" {
			return IntakeResult{Action: IntakeSkip, Reason: reason}, nil
		}
	}

	settings := h.core.Settings()
	if settings.IsExcluded(sig.Symbol) {
		return IntakeResult{Action: IntakeSkip, Reason: "excluded pair"}, nil
	}
	if _, held := h.core.portfolio.Get(sig.Symbol); held {
		return IntakeResult{Action: IntakeSkip, Reason: "managed by portfolio"}, nil
	}

	pos, err := h.core.ex.GetPosition(ctx, sig.Symbol)
	if err != nil {
		return IntakeResult{}, fmt.Errorf("get position %s: %w", sig.Symbol, err)
	}
	open, err := h.openEntries(ctx, sig.Symbol)
	if err != nil {
		return IntakeResult{}, err
	}

	if pos.PositionAmt != 0 {
		if len(open) == 0 {
			return IntakeResult{Action: IntakeSkip, Reason: "position filled"}, nil
		}
		return h.refill(ctx, sig, open, settings)
	}

	if h.core.capReached(sig.Symbol) {
		h.core.notifier.Report(domain.EventSignalRejected, sig.Symbol, "position cap reached", domain.ErrPositionCapReached)
		return IntakeResult{Action: IntakeReject, Reason: "position cap reached"}, nil
	}

	if keep := h.matchingOrder(open, sig, settings); keep != nil {
		entryConf := domain.ConfidenceUnknown
		if tracked, ok := h.core.orders.Get(keep.OrderID); ok {
			entryConf = tracked.EntryConfidence
		}
		if degraded(entryConf, sig.Confidence, settings.TrustLowConfidence) {
			canceled, err := h.cancelAll(ctx, sig.Symbol, open, "confidence_degraded")
			return IntakeResult{Action: IntakeCancel, Reason: "confidence degraded", Canceled: canceled}, err
		}
		var others []domain.OrderResult
		for _, o := range open {
			if o.OrderID != keep.OrderID {
				others = append(others, o)
			}
		}
		canceled, err := h.cancelAll(ctx, sig.Symbol, others, "duplicate")
		tracked, _ := h.core.orders.Get(keep.OrderID)
		return IntakeResult{Action: IntakeKeep, Reason: "same price resting", Order: tracked, Canceled: canceled}, err
	}

	canceled, err := h.cancelAll(ctx, sig.Symbol, open, "replaced")
	if err != nil {
		return IntakeResult{Action: IntakeCancel, Canceled: canceled}, err
	}

	order, err := h.open(ctx, sig, settings)
	if err != nil {
		return IntakeResult{Action: IntakeReject, Reason: simplify(err), Canceled: canceled}, err
	}
	return IntakeResult{Action: IntakeOpen, Order: order, Canceled: canceled}, nil
}

// openEntries lists the symbol's resting non reduce-only orders.
func (h *IntakeHandler) openEntries(ctx context.Context, symbol string) ([]domain.OrderResult, error) {
	all, err := h.core.ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get open orders %s: %w", symbol, err)
	}
	out := make([]domain.OrderResult, 0, len(all))
	for _, o := range all {
		if !o.ReduceOnly {
			out = append(out, o)
		}
	}
	return out, nil
}

func (h *IntakeHandler) matchingOrder(open []domain.OrderResult, sig domain.Signal, settings domain.Settings) *domain.OrderResult {
	if settings.OrderType != domain.OrderTypeLimit {
		return nil
	}
	for i, o := range open {
		if o.Type == string(domain.OrderTypeLimit) && o.Side == sig.Side.OrderSide() && samePrice(o.Price, sig.LimitPrice) {
			return &open[i]
		}
	}
	return nil
}

// degraded is a high/medium entry meeting a low signal without operator trust.
func degraded(entry, now domain.Confidence, trustLow bool) bool {
	return !trustLow && entry.Level() >= domain.ConfidenceMedium.Level() && now == domain.ConfidenceLow
}

// refill handles a partial fill: cancel what rests and, for LIMIT mode,
// re-place exactly the unfilled quantity at the new price.
func (h *IntakeHandler) refill(ctx context.Context, sig domain.Signal, open []domain.OrderResult, settings domain.Settings) (IntakeResult, error) {
	unfilled := 0.0
	entryConf := sig.Confidence
	for _, o := range open {
		unfilled += o.Unfilled()
		if tracked, ok := h.core.orders.Get(o.OrderID); ok && tracked.EntryConfidence != "" {
			entryConf = tracked.EntryConfidence
		}
	}

	canceled, err := h.cancelAll(ctx, sig.Symbol, open, "partial_fill")
	if err != nil {
		return IntakeResult{Action: IntakeCancel, Canceled: canceled}, err
	}
	if settings.OrderType != domain.OrderTypeLimit || unfilled <= 0 {
		return IntakeResult{Action: IntakeCancel, Reason: "partial fill, remainder canceled", Canceled: canceled}, nil
	}

	lot, err := h.core.ex.GetMarketLotSize(ctx, sig.Symbol)
	if err != nil {
		return IntakeResult{Action: IntakeCancel, Canceled: canceled}, err
	}
	qty := FloorToStep(unfilled, lot.StepSize)
	if err := CheckLot(qty, *lot); err != nil {
		return IntakeResult{Action: IntakeCancel, Reason: "partial fill, remainder below lot", Canceled: canceled}, nil
	}

	order, err := h.core.placeEntry(ctx, entryOrder{
		symbol:     sig.Symbol,
		side:       sig.Side,
		orderType:  domain.OrderTypeLimit,
		price:      sig.LimitPrice,
		quantity:   qty,
		takeProfit: settings.TakeProfit,
		stopLoss:   settings.StopLoss,
		confidence: entryConf,
		strategy:   h.desc.Kind,
		prefix:     h.desc.IDPrefix,
	})
	if err != nil {
		return IntakeResult{Action: IntakeCancel, Reason: simplify(err), Canceled: canceled}, err
	}
	h.log.WithFields(logrus.Fields{"symbol": sig.Symbol, "quantity": qty}).Info("unfilled remainder re-placed")
	return IntakeResult{Action: IntakeRefill, Order: order, Canceled: canceled}, nil
}

func (h *IntakeHandler) open(ctx context.Context, sig domain.Signal, settings domain.Settings) (*domain.Order, error) {
	size, err := h.core.sizer.Size(ctx, sig.Symbol, settings.Margin(), settings.Leverage, sig.LimitPrice)
	if err != nil {
		return nil, err
	}
	if !h.core.realTrading {
		return nil, domain.ErrRealTradingDisabled
	}
	if err := h.core.ex.SetLeverage(ctx, sig.Symbol, size.Leverage); err != nil {
		return nil, fmt.Errorf("set leverage %s: %w", sig.Symbol, err)
	}
	return h.core.placeEntry(ctx, entryOrder{
		symbol:     sig.Symbol,
		side:       sig.Side,
		orderType:  settings.OrderType,
		price:      sig.LimitPrice,
		quantity:   size.Quantity,
		takeProfit: settings.TakeProfit,
		stopLoss:   settings.StopLoss,
		confidence: sig.Confidence,
		strategy:   h.desc.Kind,
		prefix:     h.desc.IDPrefix,
	})
}

func (h *IntakeHandler) cancelAll(ctx context.Context, symbol string, open []domain.OrderResult, reason string) ([]int64, error) {
	var canceled []int64
	for _, o := range open {
		if err := h.core.cancelOrder(ctx, symbol, o.OrderID, reason); err != nil {
			return canceled, err
		}
		canceled = append(canceled, o.OrderID)
	}
	return canceled, nil
}
