package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// Signal is a candidate trade produced by rule evaluation. Signals are
// ephemeral: they are produced fresh each cycle and never mutated.
type Signal struct {
	// ID uniquely identifies the signal within its cycle.
	ID string `yaml:"id" json:"id"`
	// Time is the time the signal was generated.
	Time time.Time `yaml:"time" json:"time"`
	// Agent is the name of the agent owning the rule that fired.
	Agent string `yaml:"agent" json:"agent"`
	// Ticker is the instrument the signal wants to trade.
	Ticker string `yaml:"ticker" json:"ticker"`
	// Action is the trade direction.
	Action TradeAction `yaml:"action" json:"action"`
	// Confidence is a 0-100 score expressing rule-evaluation strength,
	// not a probability.
	Confidence int `yaml:"confidence" json:"confidence"`
	// Reasoning is a human-readable explanation of why the rule fired.
	Reasoning string `yaml:"reasoning" json:"reasoning"`
	// Triggers lists the individual conditions that were met.
	Triggers []string `yaml:"triggers" json:"triggers"`
	// Price is the ticker's price at generation time.
	Price float64 `yaml:"price" json:"price"`
	// Target is the optional price target.
	Target optional.Option[float64] `yaml:"target" json:"target,omitempty"`
	// Stop is the optional stop price.
	Stop optional.Option[float64] `yaml:"stop" json:"stop,omitempty"`
}

// Key groups signals that would trade the same instrument in the same
// direction; deduplication keeps one signal per key.
func (s *Signal) Key() string {
	return s.Ticker + "/" + string(s.Action)
}
