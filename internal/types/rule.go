package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// TradeAction is the direction a rule or signal wants to trade.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "buy"
	TradeActionSell TradeAction = "sell"
)

// ConditionKind selects which part of the market snapshot a condition reads.
type ConditionKind string

const (
	// ConditionKindYield reads an absolute yield by tenor (field: y2, y5, y10, y30).
	ConditionKindYield ConditionKind = "yield"
	// ConditionKindYieldChange reads the same-day absolute yield change by tenor.
	ConditionKindYieldChange ConditionKind = "yield_change"
	// ConditionKindPrice reads a ticker quote attribute (field: TICKER or TICKER.attr).
	ConditionKindPrice ConditionKind = "price"
	// ConditionKindSpread reads a computed curve spread (field: spread2Y10Y, spread10Y30Y).
	ConditionKindSpread ConditionKind = "spread"
	// ConditionKindChange reads a ticker's same-day percent change (field: TICKER).
	ConditionKindChange ConditionKind = "change"
	// ConditionKindThreshold reads derived portfolio values such as
	// position_profit_pct and position_loss_pct.
	ConditionKindThreshold ConditionKind = "threshold"
)

// Operator is the comparison applied between the observed value and the
// condition's threshold value(s).
type Operator string

const (
	OperatorGreaterThan  Operator = ">"
	OperatorLessThan     Operator = "<"
	OperatorGreaterEqual Operator = ">="
	OperatorLessEqual    Operator = "<="
	OperatorEqual        Operator = "=="
	OperatorBetween      Operator = "between"
)

// RuleCondition is one comparison inside a strategy rule. All conditions of a
// rule must be met for the rule to fire.
type RuleCondition struct {
	Kind     ConditionKind `yaml:"kind" json:"kind" validate:"required,oneof=yield yield_change price spread change threshold"`
	Field    string        `yaml:"field" json:"field" validate:"required"`
	Operator Operator      `yaml:"operator" json:"operator" validate:"required,oneof=> < >= <= == between"`
	Value    float64       `yaml:"value" json:"value"`
	// Value2 is the upper bound for the between operator. When absent, Value is
	// used as both bounds.
	Value2 optional.Option[float64] `yaml:"value2" json:"value2,omitempty"`
	// Weight is this condition's relative contribution to the confidence bonus.
	Weight float64 `yaml:"weight" json:"weight" validate:"gte=0"`
}

// UnmarshalYAML implements custom unmarshaling so the optional upper bound can
// be written as a plain number in rule files.
func (c *RuleCondition) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type condition struct {
		Kind     ConditionKind `yaml:"kind"`
		Field    string        `yaml:"field"`
		Operator Operator      `yaml:"operator"`
		Value    float64       `yaml:"value"`
		Value2   *float64      `yaml:"value2"`
		Weight   float64       `yaml:"weight"`
	}

	var raw condition
	if err := unmarshal(&raw); err != nil {
		return err
	}

	c.Kind = raw.Kind
	c.Field = raw.Field
	c.Operator = raw.Operator
	c.Value = raw.Value
	c.Weight = raw.Weight

	if raw.Value2 != nil {
		c.Value2 = optional.Some(*raw.Value2)
	} else {
		c.Value2 = optional.None[float64]()
	}

	return nil
}

// UpperValue returns the between upper bound, defaulting to Value when unset.
func (c *RuleCondition) UpperValue() float64 {
	return c.Value2.TakeOr(c.Value)
}

// StrategyRule is one declarative trading rule. Rules are static configuration
// loaded from a rule file; they are never derived at runtime and change only
// through an explicit reload.
type StrategyRule struct {
	ID             string          `yaml:"id" json:"id" validate:"required"`
	Enabled        bool            `yaml:"enabled" json:"enabled"`
	Agent          string          `yaml:"agent" json:"agent" validate:"required"`
	Conditions     []RuleCondition `yaml:"conditions" json:"conditions" validate:"required,min=1,dive"`
	Action         TradeAction     `yaml:"action" json:"action" validate:"required,oneof=buy sell"`
	Ticker         string          `yaml:"ticker" json:"ticker" validate:"required"`
	BaseConfidence int             `yaml:"base_confidence" json:"baseConfidence" validate:"gte=0,lte=100"`
	Description    string          `yaml:"description" json:"description"`
}

// Validate validates the StrategyRule struct.
func (r *StrategyRule) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRule, "invalid strategy rule", err)
	}

	return nil
}

// RuleSet is an ordered collection of strategy rules plus the schema version of
// the file they were loaded from.
type RuleSet struct {
	Version string         `yaml:"version" json:"version" validate:"required"`
	Rules   []StrategyRule `yaml:"rules" json:"rules"`
}

// Enabled returns the enabled rules in file order.
func (rs *RuleSet) Enabled() []StrategyRule {
	rules := make([]StrategyRule, 0, len(rs.Rules))

	for _, rule := range rs.Rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}

	return rules
}
