package usecase

import (
	"sync"
	"time"

	"perp-backend/internal/domain"
)

// Smart exit reasons, in rule priority order.
const (
	ExitStrongReversal           = "strong_reversal"
	ExitProfitProtection         = "profit_protection"
	ExitConfidenceCollapse       = "confidence_collapse"
	ExitConsecutiveLowConfidence = "consecutive_low_confidence"
	ExitConsecutiveOpposite      = "consecutive_opposite"
	ExitProfitErosion            = "profit_erosion"
	ExitStaleLosing              = "stale_losing"
	ExitDecliningMomentum        = "declining_momentum"
)

const smartHistorySize = 10

// SmartExitConfig holds the rule thresholds. PnL values are in quote currency.
type SmartExitConfig struct {
	ProtectProfitAbove   float64
	CollapseAfter        time.Duration
	CollapseLevels       int
	LowStreak            int
	OppositeStreak       int
	ErosionPeakAbove     float64
	ErosionCurrentAtMost float64
	StaleAfter           time.Duration
	StaleLossBelow       float64
	DecliningWindow      int
}

func DefaultSmartExitConfig() SmartExitConfig {
	return SmartExitConfig{
		ProtectProfitAbove:   10,
		CollapseAfter:        120 * time.Second,
		CollapseLevels:       2,
		LowStreak:            3,
		OppositeStreak:       2,
		ErosionPeakAbove:     20,
		ErosionCurrentAtMost: 5,
		StaleAfter:           300 * time.Second,
		StaleLossBelow:       -10,
		DecliningWindow:      3,
	}
}

// PositionView is what the engine needs to know about the held position.
type PositionView struct {
	Side            domain.Side
	EntryConfidence domain.Confidence
	FilledAt        time.Time
}

// SignalView is one incoming signal for the held symbol.
type SignalView struct {
	Side       domain.Side
	Confidence domain.Confidence
	Score      float64
}

// ExitDecision is the engine's verdict. Rule is 1-based; zero when holding.
type ExitDecision struct {
	ShouldExit bool   `json:"shouldExit"`
	Reason     string `json:"reason,omitempty"`
	Rule       int    `json:"rule,omitempty"`
}

type historyEntry struct {
	at         time.Time
	side       domain.Side
	confidence domain.Confidence
	score      float64
	pnl        float64
}

type symbolHistory struct {
	entryTime           time.Time
	entrySide           domain.Side
	entryConfidence     domain.Confidence
	signals             []historyEntry
	consecutiveLow      int
	consecutiveOpposite int
}

// SmartExitEngine keeps per-symbol signal memory and applies the exit rules.
type SmartExitEngine struct {
	mu        sync.Mutex
	cfg       SmartExitConfig
	histories map[string]*symbolHistory
}

func NewSmartExitEngine(cfg SmartExitConfig) *SmartExitEngine {
	return &SmartExitEngine{cfg: cfg, histories: make(map[string]*symbolHistory)}
}

// SetProfitThreshold updates the profit protection threshold.
func (e *SmartExitEngine) SetProfitThreshold(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v > 0 {
		e.cfg.ProtectProfitAbove = v
	}
}

// Reset forgets symbol; the next Evaluate starts a fresh history.
func (e *SmartExitEngine) Reset(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.histories, symbol)
}

// Evaluate records sig and returns the first matching rule. In auto mode only
// the reversal rules (1 and 2) apply.
func (e *SmartExitEngine) Evaluate(symbol string, pos PositionView, sig SignalView, netPnL float64, auto bool, now time.Time) ExitDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.histories[symbol]
	if h == nil || !h.entryTime.Equal(pos.FilledAt) || h.entrySide != pos.Side {
		h = &symbolHistory{
			entryTime:       pos.FilledAt,
			entrySide:       pos.Side,
			entryConfidence: pos.EntryConfidence,
		}
		e.histories[symbol] = h
	}

	h.signals = append(h.signals, historyEntry{
		at:         now,
		side:       sig.Side,
		confidence: sig.Confidence,
		score:      strength(sig),
		pnl:        netPnL,
	})
	if len(h.signals) > smartHistorySize {
		h.signals = h.signals[len(h.signals)-smartHistorySize:]
	}

	if sig.Confidence == domain.ConfidenceLow {
		h.consecutiveLow++
	} else {
		h.consecutiveLow = 0
	}
	opposite := sig.Side == pos.Side.Opposite() && sig.Side != domain.SideNeutral
	if opposite {
		h.consecutiveOpposite++
	} else {
		h.consecutiveOpposite = 0
	}

	cfg := e.cfg
	held := now.Sub(h.entryTime)

	if opposite && sig.Confidence == domain.ConfidenceHigh {
		return exit(1, ExitStrongReversal)
	}
	if opposite && netPnL > cfg.ProtectProfitAbove {
		return exit(2, ExitProfitProtection)
	}
	if auto {
		return ExitDecision{}
	}

	if held > cfg.CollapseAfter && sig.Confidence != domain.ConfidenceUnknown &&
		h.entryConfidence.Level()-sig.Confidence.Level() >= cfg.CollapseLevels {
		return exit(3, ExitConfidenceCollapse)
	}
	if h.consecutiveLow >= cfg.LowStreak {
		return exit(4, ExitConsecutiveLowConfidence)
	}
	if h.consecutiveOpposite >= cfg.OppositeStreak {
		return exit(5, ExitConsecutiveOpposite)
	}
	if peakPnL(h.signals) > cfg.ErosionPeakAbove && netPnL <= cfg.ErosionCurrentAtMost &&
		sig.Confidence == domain.ConfidenceLow {
		return exit(6, ExitProfitErosion)
	}
	if held > cfg.StaleAfter && sig.Confidence == domain.ConfidenceLow && netPnL < cfg.StaleLossBelow {
		return exit(7, ExitStaleLosing)
	}
	if netPnL < 0 && strictlyDecreasing(h.signals, cfg.DecliningWindow) {
		return exit(8, ExitDecliningMomentum)
	}
	return ExitDecision{}
}

func exit(rule int, reason string) ExitDecision {
	return ExitDecision{ShouldExit: true, Reason: reason, Rule: rule}
}

// strength prefers the strategy score and falls back to the confidence level.
func strength(sig SignalView) float64 {
	if sig.Score != 0 {
		return sig.Score
	}
	return float64(sig.Confidence.Level())
}

func peakPnL(entries []historyEntry) float64 {
	peak := 0.0
	for i, s := range entries {
		if i == 0 || s.pnl > peak {
			peak = s.pnl
		}
	}
	return peak
}

func strictlyDecreasing(entries []historyEntry, window int) bool {
	if window < 2 || len(entries) < window {
		return false
	}
	tail := entries[len(entries)-window:]
	for i := 1; i < len(tail); i++ {
		if tail[i].score >= tail[i-1].score {
			return false
		}
	}
	return true
}
