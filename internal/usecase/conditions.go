package usecase

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"perp-backend/internal/domain"
	"perp-backend/internal/infrastructure/indicators"
)

// DefaultTimeframe is used by indicator leaves that name none.
const DefaultTimeframe = "5m"

var ErrInvalidGraph = errors.New("invalid strategy graph")

// EvalContext is the market snapshot a graph is evaluated against.
type EvalContext struct {
	Symbol       string
	Price        float64
	HasPosition  bool
	PositionSide domain.Side
	Candles      map[string]indicators.Series
	Signals      map[domain.StrategyKind]*domain.Signal
}

type graphIndex struct {
	nodes  map[string]*domain.StrategyNode
	inputs map[string][]string
}

func indexGraph(g domain.StrategyGraph) (graphIndex, error) {
	idx := graphIndex{
		nodes:  make(map[string]*domain.StrategyNode, len(g.Nodes)),
		inputs: make(map[string][]string),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := idx.nodes[n.ID]; dup {
			return idx, fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, n.ID)
		}
		idx.nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		if idx.nodes[e.From] == nil || idx.nodes[e.To] == nil {
			return idx, fmt.Errorf("%w: edge %s->%s references unknown node", ErrInvalidGraph, e.From, e.To)
		}
		idx.inputs[e.To] = append(idx.inputs[e.To], e.From)
	}
	return idx, nil
}

// TerminalConditions returns the condition and combinator nodes wired
// directly into an action, in edge order.
func TerminalConditions(g domain.StrategyGraph) []string {
	types := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		types[n.ID] = n.Type
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.Edges {
		if types[e.To] != domain.NodeAction || types[e.From] == domain.NodeAction || seen[e.From] {
			continue
		}
		seen[e.From] = true
		out = append(out, e.From)
	}
	return out
}

// Actions returns the action nodes in declaration order.
func Actions(g domain.StrategyGraph) []domain.StrategyNode {
	var out []domain.StrategyNode
	for _, n := range g.Nodes {
		if n.Type == domain.NodeAction && n.Action != nil {
			out = append(out, n)
		}
	}
	return out
}

// ValidateGraph checks structure without market data: known node types,
// complete leaves and actions, combinator arity and no cycles.
func ValidateGraph(g domain.StrategyGraph) error {
	idx, err := indexGraph(g)
	if err != nil {
		return err
	}
	if len(Actions(g)) == 0 {
		return fmt.Errorf("%w: no action node", ErrInvalidGraph)
	}
	if len(TerminalConditions(g)) == 0 {
		return fmt.Errorf("%w: no condition feeds an action", ErrInvalidGraph)
	}
	for _, n := range g.Nodes {
		switch n.Type {
		case domain.NodeCondition:
			if n.Condition == nil {
				return fmt.Errorf("%w: condition %q has no settings", ErrInvalidGraph, n.ID)
			}
		case domain.NodeCombinator:
			if err := checkArity(n, len(idx.inputs[n.ID])); err != nil {
				return err
			}
		case domain.NodeAction:
			if n.Action == nil {
				return fmt.Errorf("%w: action %q has no settings", ErrInvalidGraph, n.ID)
			}
			switch n.Action.Kind {
			case domain.ActionOpenLong, domain.ActionOpenShort, domain.ActionClose:
			default:
				return fmt.Errorf("%w: action %q kind %q", ErrInvalidGraph, n.ID, n.Action.Kind)
			}
		default:
			return fmt.Errorf("%w: node %q type %q", ErrInvalidGraph, n.ID, n.Type)
		}
	}

	state := make(map[string]int)
	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 1:
			return fmt.Errorf("%w: cycle through %q", ErrInvalidGraph, id)
		case 2:
			return nil
		}
		state[id] = 1
		for _, in := range idx.inputs[id] {
			if err := visit(in); err != nil {
				return err
			}
		}
		state[id] = 2
		return nil
	}
	for id := range idx.nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func checkArity(n domain.StrategyNode, inputs int) error {
	switch strings.ToUpper(n.Operator) {
	case domain.OpAnd, domain.OpOr:
		if inputs < 1 {
			return fmt.Errorf("%w: %s %q has no inputs", ErrInvalidGraph, n.Operator, n.ID)
		}
	case domain.OpNot:
		if inputs != 1 {
			return fmt.Errorf("%w: NOT %q needs exactly one input, has %d", ErrInvalidGraph, n.ID, inputs)
		}
	default:
		return fmt.Errorf("%w: combinator %q operator %q", ErrInvalidGraph, n.ID, n.Operator)
	}
	return nil
}

// EvaluateGraph is true when every terminal condition holds. A graph with no
// terminal condition never fires.
func EvaluateGraph(g domain.StrategyGraph, ec EvalContext) (bool, error) {
	idx, err := indexGraph(g)
	if err != nil {
		return false, err
	}
	terminals := TerminalConditions(g)
	if len(terminals) == 0 {
		return false, nil
	}

	memo := make(map[string]bool)
	visiting := make(map[string]bool)
	var eval func(id string) (bool, error)
	eval = func(id string) (bool, error) {
		if v, ok := memo[id]; ok {
			return v, nil
		}
		if visiting[id] {
			return false, fmt.Errorf("%w: cycle through %q", ErrInvalidGraph, id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		n := idx.nodes[id]
		var (
			v   bool
			err error
		)
		switch n.Type {
		case domain.NodeCondition:
			if n.Condition == nil {
				return false, fmt.Errorf("%w: condition %q has no settings", ErrInvalidGraph, id)
			}
			v, err = evalLeaf(*n.Condition, ec)
		case domain.NodeCombinator:
			v, err = evalCombinator(*n, idx.inputs[id], eval)
		default:
			return false, fmt.Errorf("%w: %q of type %s cannot be evaluated", ErrInvalidGraph, id, n.Type)
		}
		if err != nil {
			return false, fmt.Errorf("node %s: %w", id, err)
		}
		memo[id] = v
		return v, nil
	}

	for _, id := range terminals {
		ok, err := eval(id)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalCombinator(n domain.StrategyNode, inputs []string, eval func(string) (bool, error)) (bool, error) {
	if err := checkArity(n, len(inputs)); err != nil {
		return false, err
	}
	switch strings.ToUpper(n.Operator) {
	case domain.OpNot:
		v, err := eval(inputs[0])
		return !v, err
	case domain.OpAnd:
		for _, in := range inputs {
			v, err := eval(in)
			if err != nil || !v {
				return false, err
			}
		}
		return true, nil
	default:
		for _, in := range inputs {
			v, err := eval(in)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	}
}

func evalLeaf(c domain.ConditionSpec, ec EvalContext) (bool, error) {
	switch c.Kind {
	case domain.LeafPrice:
		if c.Indicator == "" {
			return compare(ec.Price, c.Comparator, c.Value)
		}
		v, err := indicatorValue(c, ec)
		if err != nil {
			return false, err
		}
		return compare(ec.Price, c.Comparator, v)

	case domain.LeafIndicator:
		v, err := indicatorValue(c, ec)
		if err != nil {
			return false, err
		}
		return compare(v, c.Comparator, c.Value)

	case domain.LeafServerSignal:
		sig := ec.Signals[c.SignalStrategy]
		if sig == nil {
			return false, nil
		}
		if c.SignalSide != "" && sig.Side != c.SignalSide {
			return false, nil
		}
		if c.MinConfidence != "" && sig.Confidence.Level() < c.MinConfidence.Level() {
			return false, nil
		}
		return sig.Side != domain.SideNeutral, nil

	case domain.LeafPosition:
		switch strings.ToLower(c.PositionState) {
		case "none", "":
			return !ec.HasPosition, nil
		case "long":
			return ec.HasPosition && ec.PositionSide == domain.SideLong, nil
		case "short":
			return ec.HasPosition && ec.PositionSide == domain.SideShort, nil
		case "any":
			return ec.HasPosition, nil
		}
		return false, fmt.Errorf("%w: position state %q", ErrInvalidGraph, c.PositionState)
	}
	return false, fmt.Errorf("%w: leaf kind %q", ErrInvalidGraph, c.Kind)
}

func indicatorValue(c domain.ConditionSpec, ec EvalContext) (float64, error) {
	tf := c.Timeframe
	if tf == "" {
		tf = DefaultTimeframe
	}
	series, ok := ec.Candles[tf]
	if !ok {
		return 0, fmt.Errorf("no %s candles for %s", tf, ec.Symbol)
	}
	return series.Latest(c.Indicator, c.Period)
}

func compare(a float64, op string, b float64) (bool, error) {
	switch op {
	case ">", "above":
		return a > b, nil
	case ">=":
		return a >= b, nil
	case "<", "below":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case "==":
		return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b)), nil
	}
	return false, fmt.Errorf("%w: comparator %q", ErrInvalidGraph, op)
}

// requirements lists the candle timeframes and server signals the graph reads.
func requirements(g domain.StrategyGraph) (timeframes []string, strategies []domain.StrategyKind) {
	seenTF := make(map[string]bool)
	seenSig := make(map[domain.StrategyKind]bool)
	for _, n := range g.Nodes {
		c := n.Condition
		if n.Type != domain.NodeCondition || c == nil {
			continue
		}
		switch {
		case c.Kind == domain.LeafIndicator || (c.Kind == domain.LeafPrice && c.Indicator != ""):
			tf := c.Timeframe
			if tf == "" {
				tf = DefaultTimeframe
			}
			if !seenTF[tf] {
				seenTF[tf] = true
				timeframes = append(timeframes, tf)
			}
		case c.Kind == domain.LeafServerSignal:
			if !seenSig[c.SignalStrategy] {
				seenSig[c.SignalStrategy] = true
				strategies = append(strategies, c.SignalStrategy)
			}
		}
	}
	return timeframes, strategies
}
