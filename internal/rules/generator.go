package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
)

// MaxConfidenceBonus is the ceiling of the weighted confidence bonus added to
// a firing rule's base confidence.
const MaxConfidenceBonus = 20

// Generator runs the condition evaluator over every enabled rule and turns
// full matches into deduplicated signals.
type Generator struct {
	log       *logger.Logger
	evaluator *Evaluator
}

// NewGenerator creates a signal generator.
func NewGenerator(log *logger.Logger) *Generator {
	return &Generator{
		log:       log,
		evaluator: NewEvaluator(log),
	}
}

// Generate evaluates the rule set against the snapshot and open positions. A
// rule fires only when every one of its conditions is met (the rule language
// has AND semantics only). The first return contains at most one signal per
// (ticker, action) pair: the highest-confidence one. The second return is the
// full pre-dedup fired list, which risk filters use to count how many agents
// back the same trade this cycle.
func (g *Generator) Generate(now time.Time, snapshot types.MarketSnapshot, ruleSet *types.RuleSet, positions []types.Position) (signals, fired []types.Signal) {
	fired = make([]types.Signal, 0)

	for _, rule := range ruleSet.Enabled() {
		signal, ok := g.evaluateRule(now, rule, snapshot, positions)
		if !ok {
			continue
		}

		fired = append(fired, signal)
	}

	return dedupe(fired), fired
}

// evaluateRule checks every condition of one rule and builds its signal.
//
//nolint:funcorder // helper method used by Generate
func (g *Generator) evaluateRule(now time.Time, rule types.StrategyRule, snapshot types.MarketSnapshot, positions []types.Position) (types.Signal, bool) {
	input := EvalInput{
		Snapshot:  snapshot,
		Positions: positions,
		Ticker:    rule.Ticker,
	}

	var (
		triggers    []string
		metWeight   float64
		totalWeight float64
	)

	for _, cond := range rule.Conditions {
		totalWeight += cond.Weight

		met, actual := g.evaluator.Evaluate(cond, input)
		if !met {
			return types.Signal{}, false
		}

		metWeight += cond.Weight
		triggers = append(triggers, describeTrigger(cond, actual))
	}

	price := 0.0
	if quote, ok := snapshot.Quote(rule.Ticker); ok {
		price = quote.Price
	}

	signal := types.Signal{
		ID:         uuid.NewString(),
		Time:       now,
		Agent:      rule.Agent,
		Ticker:     rule.Ticker,
		Action:     rule.Action,
		Confidence: confidence(rule.BaseConfidence, metWeight, totalWeight),
		Reasoning:  reasoning(rule, triggers),
		Triggers:   triggers,
		Price:      price,
		Target:     optional.None[float64](),
		Stop:       optional.None[float64](),
	}

	g.log.Debug("rule fired",
		zap.String("rule_id", rule.ID),
		zap.String("ticker", rule.Ticker),
		zap.String("action", string(rule.Action)),
		zap.Int("confidence", signal.Confidence),
	)

	return signal, true
}

// confidence adds the weighted bonus to the base confidence, capped at 100.
// Because a rule fires only when every condition is met, the met/total ratio
// is 1 in practice and the bonus is always the full amount; the per-condition
// weights still document relative importance. Rules with no weighted
// conditions get the full bonus for the same reason.
func confidence(base int, metWeight, totalWeight float64) int {
	bonus := MaxConfidenceBonus
	if totalWeight > 0 {
		bonus = int(math.Round(metWeight / totalWeight * MaxConfidenceBonus))
	}

	total := base + bonus
	if total > 100 {
		return 100
	}

	return total
}

// reasoning joins the rule description with the conditions that were met.
func reasoning(rule types.StrategyRule, triggers []string) string {
	if rule.Description == "" {
		return strings.Join(triggers, "; ")
	}

	return rule.Description + ": " + strings.Join(triggers, "; ")
}

// describeTrigger renders one met condition for humans.
func describeTrigger(cond types.RuleCondition, actual float64) string {
	if cond.Operator == types.OperatorBetween {
		return fmt.Sprintf("%s %s=%.2f between %.2f and %.2f", cond.Kind, cond.Field, actual, cond.Value, cond.UpperValue())
	}

	return fmt.Sprintf("%s %s=%.2f %s %.2f", cond.Kind, cond.Field, actual, cond.Operator, cond.Value)
}

// dedupe keeps the highest-confidence signal per (ticker, action) pair so one
// cycle cannot emit contradictory near-duplicate orders.
func dedupe(signals []types.Signal) []types.Signal {
	best := make(map[string]types.Signal, len(signals))
	order := make([]string, 0, len(signals))

	for _, signal := range signals {
		key := signal.Key()

		current, seen := best[key]
		if !seen {
			best[key] = signal
			order = append(order, key)

			continue
		}

		if signal.Confidence > current.Confidence {
			best[key] = signal
		}
	}

	out := make([]types.Signal, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}

	return out
}
