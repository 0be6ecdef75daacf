package rules

import (
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// SupportedSchemaMajor is the rules-file schema major version this engine
// understands. Rule files with a different major are rejected at load time.
const SupportedSchemaMajor = 1

// Loader reads strategy rules from a YAML file. Rules change only through an
// explicit Load or Reload; there is no file watching.
type Loader struct {
	path string
	log  *logger.Logger

	mu      sync.RWMutex
	current *types.RuleSet
}

// NewLoader creates a rule loader for the given file path.
func NewLoader(path string, log *logger.Logger) *Loader {
	return &Loader{
		path:    path,
		log:     log,
		mu:      sync.RWMutex{},
		current: nil,
	}
}

// Load parses and validates the rules file. Individual invalid rules are
// logged and skipped rather than failing the load; a bad schema version or an
// unparsable file is fatal.
func (l *Loader) Load() (*types.RuleSet, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeRuleSetParseFailed, err, "failed to read rules file %s", l.path)
	}

	ruleSet, err := ParseRuleSet(raw, l.log)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = ruleSet
	l.mu.Unlock()

	l.log.Info("rule set loaded",
		zap.String("path", l.path),
		zap.String("version", ruleSet.Version),
		zap.Int("rules", len(ruleSet.Rules)),
	)

	return ruleSet, nil
}

// Reload re-reads the rules file. Alias for Load kept for call-site clarity.
func (l *Loader) Reload() (*types.RuleSet, error) {
	return l.Load()
}

// Current returns the last successfully loaded rule set, or an error if no
// load has succeeded yet.
func (l *Loader) Current() (*types.RuleSet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.current == nil {
		return nil, errors.New(errors.ErrCodeRuleSetNotLoaded, "no rule set loaded")
	}

	return l.current, nil
}

// ParseRuleSet parses YAML rule-set bytes, checks the schema version, and
// drops invalid rules with a warning.
func ParseRuleSet(raw []byte, log *logger.Logger) (*types.RuleSet, error) {
	var ruleSet types.RuleSet
	if err := yaml.Unmarshal(raw, &ruleSet); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRuleSetParseFailed, "failed to parse rules file", err)
	}

	if err := CheckSchemaVersion(ruleSet.Version); err != nil {
		return nil, err
	}

	valid := make([]types.StrategyRule, 0, len(ruleSet.Rules))

	for _, rule := range ruleSet.Rules {
		if err := rule.Validate(); err != nil {
			// A misconfigured rule is skipped, never fatal to the load.
			log.Warn("skipping invalid rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)

			continue
		}

		valid = append(valid, rule)
	}

	ruleSet.Rules = valid

	return &ruleSet, nil
}

// CheckSchemaVersion verifies the rules-file schema version against the
// engine's supported major version.
func CheckSchemaVersion(version string) error {
	if version == "" {
		return errors.New(errors.ErrCodeRuleSchemaVersion, "rules file has no schema version")
	}

	parsed, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeRuleSchemaVersion, err, "invalid rules schema version '%s'", version)
	}

	if parsed.Major() != SupportedSchemaMajor {
		return errors.Newf(errors.ErrCodeRuleSchemaVersion,
			"unsupported rules schema version %s: engine supports %d.x",
			version, SupportedSchemaMajor)
	}

	return nil
}
