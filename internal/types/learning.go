package types

// LearningType classifies a learning record.
type LearningType string

const (
	// LearningTypeInsight is a market observation not tied to a trade.
	LearningTypeInsight LearningType = "insight"
	// LearningTypeSuccess records a closed trade with positive realized P&L.
	LearningTypeSuccess LearningType = "success"
	// LearningTypeFailure records a closed trade with flat or negative
	// realized P&L.
	LearningTypeFailure LearningType = "failure"
)

// LearningRecord is a write-only note emitted to the external knowledge store
// by the outcome tracker and by market-event detection.
type LearningRecord struct {
	Agent   string       `yaml:"agent" json:"agent"`
	Type    LearningType `yaml:"type" json:"type"`
	Content string       `yaml:"content" json:"content"`
	// Context carries optional structured key-value detail.
	Context map[string]string `yaml:"context" json:"context,omitempty"`
	// Confidence is a 0-100 score for how much weight the record deserves.
	Confidence int `yaml:"confidence" json:"confidence"`
}

// AlertLevel is the severity of an operator alert.
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert is a fire-and-forget operator notification.
type Alert struct {
	Level    AlertLevel `yaml:"level" json:"level"`
	Category string     `yaml:"category" json:"category"`
	Title    string     `yaml:"title" json:"title"`
	Message  string     `yaml:"message" json:"message"`
	Agent    string     `yaml:"agent" json:"agent"`
}
