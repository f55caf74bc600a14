package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-backend/internal/domain"
	"perp-backend/internal/infrastructure/indicators"
)

func cond(id string, c domain.ConditionSpec) domain.StrategyNode {
	return domain.StrategyNode{ID: id, Type: domain.NodeCondition, Condition: &c}
}

func comb(id, op string) domain.StrategyNode {
	return domain.StrategyNode{ID: id, Type: domain.NodeCombinator, Operator: op}
}

func act(id, kind string) domain.StrategyNode {
	return domain.StrategyNode{ID: id, Type: domain.NodeAction, Action: &domain.ActionSpec{Kind: kind}}
}

func edges(pairs ...string) []domain.StrategyEdge {
	var out []domain.StrategyEdge
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.StrategyEdge{From: pairs[i], To: pairs[i+1]})
	}
	return out
}

func risingSeries(n int) indicators.Series {
	candles := make([]domain.Candle, n)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = domain.Candle{Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	return indicators.FromCandles(candles)
}

func TestTerminalConditions(t *testing.T) {
	g := domain.StrategyGraph{
		Nodes: []domain.StrategyNode{
			cond("a", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 1}),
			cond("b", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: "<", Value: 1000}),
			comb("and", domain.OpAnd),
			cond("c", domain.ConditionSpec{Kind: domain.LeafPosition, PositionState: "none"}),
			act("buy", domain.ActionOpenLong),
		},
		Edges: edges("a", "and", "b", "and", "and", "buy", "c", "buy"),
	}
	assert.Equal(t, []string{"and", "c"}, TerminalConditions(g))
	require.NoError(t, ValidateGraph(g))
}

func TestEvaluateGraph(t *testing.T) {
	base := EvalContext{
		Symbol:  "BTCUSDT",
		Price:   160,
		Candles: map[string]indicators.Series{"5m": risingSeries(60)},
		Signals: map[domain.StrategyKind]*domain.Signal{
			domain.StrategyMomentum: {Side: domain.SideLong, Confidence: domain.ConfidenceMedium},
		},
	}

	tests := []struct {
		name  string
		nodes []domain.StrategyNode
		edges []domain.StrategyEdge
		ec    func(EvalContext) EvalContext
		want  bool
	}{
		{
			name:  "price above value",
			nodes: []domain.StrategyNode{cond("p", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 100}), act("x", domain.ActionOpenLong)},
			edges: edges("p", "x"),
			want:  true,
		},
		{
			name: "price above ema on rising candles",
			nodes: []domain.StrategyNode{
				cond("p", domain.ConditionSpec{Kind: domain.LeafPrice, Indicator: "ema", Period: 20, Comparator: "above"}),
				act("x", domain.ActionOpenLong),
			},
			edges: edges("p", "x"),
			want:  true,
		},
		{
			name: "rsi overbought on rising candles",
			nodes: []domain.StrategyNode{
				cond("r", domain.ConditionSpec{Kind: domain.LeafIndicator, Indicator: "rsi", Timeframe: "5m", Comparator: ">=", Value: 70}),
				act("x", domain.ActionOpenShort),
			},
			edges: edges("r", "x"),
			want:  true,
		},
		{
			name: "server signal meets min confidence",
			nodes: []domain.StrategyNode{
				cond("s", domain.ConditionSpec{Kind: domain.LeafServerSignal, SignalStrategy: domain.StrategyMomentum, SignalSide: domain.SideLong, MinConfidence: domain.ConfidenceMedium}),
				act("x", domain.ActionOpenLong),
			},
			edges: edges("s", "x"),
			want:  true,
		},
		{
			name: "server signal below min confidence",
			nodes: []domain.StrategyNode{
				cond("s", domain.ConditionSpec{Kind: domain.LeafServerSignal, SignalStrategy: domain.StrategyMomentum, MinConfidence: domain.ConfidenceHigh}),
				act("x", domain.ActionOpenLong),
			},
			edges: edges("s", "x"),
			want:  false,
		},
		{
			name: "missing server signal",
			nodes: []domain.StrategyNode{
				cond("s", domain.ConditionSpec{Kind: domain.LeafServerSignal, SignalStrategy: domain.StrategyRange}),
				act("x", domain.ActionOpenLong),
			},
			edges: edges("s", "x"),
			want:  false,
		},
		{
			name: "or with one true input",
			nodes: []domain.StrategyNode{
				cond("a", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: "<", Value: 100}),
				cond("b", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: "==", Value: 160}),
				comb("or", domain.OpOr),
				act("x", domain.ActionOpenLong),
			},
			edges: edges("a", "or", "b", "or", "or", "x"),
			want:  true,
		},
		{
			name: "not of held position",
			nodes: []domain.StrategyNode{
				cond("held", domain.ConditionSpec{Kind: domain.LeafPosition, PositionState: "any"}),
				comb("not", domain.OpNot),
				act("x", domain.ActionOpenLong),
			},
			edges: edges("held", "not", "not", "x"),
			ec: func(ec EvalContext) EvalContext {
				ec.HasPosition, ec.PositionSide = true, domain.SideShort
				return ec
			},
			want: false,
		},
		{
			name: "every terminal must hold",
			nodes: []domain.StrategyNode{
				cond("a", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 100}),
				cond("b", domain.ConditionSpec{Kind: domain.LeafPosition, PositionState: "long"}),
				act("x", domain.ActionClose),
			},
			edges: edges("a", "x", "b", "x"),
			want:  false,
		},
		{
			name:  "no terminal never fires",
			nodes: []domain.StrategyNode{cond("a", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 1}), act("x", domain.ActionOpenLong)},
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := base
			if tt.ec != nil {
				ec = tt.ec(ec)
			}
			got, err := EvaluateGraph(domain.StrategyGraph{Nodes: tt.nodes, Edges: tt.edges}, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateGraphErrors(t *testing.T) {
	ec := EvalContext{Price: 10, Candles: map[string]indicators.Series{}}

	_, err := EvaluateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{comb("a", domain.OpAnd), comb("b", domain.OpAnd), act("x", domain.ActionOpenLong)},
		Edges: edges("a", "b", "b", "a", "a", "x"),
	}, ec)
	assert.ErrorIs(t, err, ErrInvalidGraph, "cycle")

	_, err = EvaluateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{
			cond("a", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 1}),
			cond("b", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">", Value: 1}),
			comb("not", domain.OpNot),
			act("x", domain.ActionOpenLong),
		},
		Edges: edges("a", "not", "b", "not", "not", "x"),
	}, ec)
	assert.ErrorIs(t, err, ErrInvalidGraph, "NOT with two inputs")

	_, err = EvaluateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{comb("and", domain.OpAnd), act("x", domain.ActionOpenLong)},
		Edges: edges("and", "x"),
	}, ec)
	assert.ErrorIs(t, err, ErrInvalidGraph, "AND without inputs")

	_, err = EvaluateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{
			cond("i", domain.ConditionSpec{Kind: domain.LeafIndicator, Indicator: "rsi", Timeframe: "1h", Comparator: ">", Value: 50}),
			act("x", domain.ActionOpenLong),
		},
		Edges: edges("i", "x"),
	}, ec)
	assert.Error(t, err, "missing candles")

	_, err = EvaluateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{cond("a", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: "~", Value: 1}), act("x", domain.ActionOpenLong)},
		Edges: edges("a", "x"),
	}, ec)
	assert.ErrorIs(t, err, ErrInvalidGraph, "unknown comparator")
}

func TestValidateGraph(t *testing.T) {
	assert.ErrorIs(t, ValidateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{cond("a", domain.ConditionSpec{Kind: domain.LeafPrice})},
	}), ErrInvalidGraph, "no action")

	assert.ErrorIs(t, ValidateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{cond("a", domain.ConditionSpec{Kind: domain.LeafPrice}), act("x", domain.ActionOpenLong)},
		Edges: edges("a", "missing"),
	}), ErrInvalidGraph, "dangling edge")

	assert.ErrorIs(t, ValidateGraph(domain.StrategyGraph{
		Nodes: []domain.StrategyNode{cond("a", domain.ConditionSpec{Kind: domain.LeafPrice}), act("x", "sell_everything")},
		Edges: edges("a", "x"),
	}), ErrInvalidGraph, "unknown action")
}

func TestRequirements(t *testing.T) {
	g := domain.StrategyGraph{Nodes: []domain.StrategyNode{
		cond("a", domain.ConditionSpec{Kind: domain.LeafIndicator, Indicator: "rsi", Timeframe: "1h"}),
		cond("b", domain.ConditionSpec{Kind: domain.LeafIndicator, Indicator: "ema"}),
		cond("c", domain.ConditionSpec{Kind: domain.LeafPrice, Indicator: "vwap", Timeframe: "1h"}),
		cond("d", domain.ConditionSpec{Kind: domain.LeafServerSignal, SignalStrategy: domain.StrategyRange}),
		cond("e", domain.ConditionSpec{Kind: domain.LeafPrice, Comparator: ">"}),
	}}
	tfs, sigs := requirements(g)
	assert.Equal(t, []string{"1h", DefaultTimeframe}, tfs)
	assert.Equal(t, []domain.StrategyKind{domain.StrategyRange}, sigs)
}
