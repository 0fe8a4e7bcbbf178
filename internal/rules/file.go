package rules

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/rfm/internal/domain"
)

// ruleFile is the on-disk layout of a standalone rule set.
type ruleFile struct {
	SegmentRules []domain.SegmentRule `yaml:"segment_rules"`
}

// LoadFile reads an ordered rule set from a YAML file.
func LoadFile(path string) ([]domain.SegmentRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read rules file %s", path)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, domain.ConfigError("parse rules file %s: %v", path, err)
	}
	if len(f.SegmentRules) == 0 {
		return nil, domain.ConfigError("rules file %s has no segment_rules", path)
	}
	return f.SegmentRules, nil
}

// WriteFile stores rules as YAML, creating parent directories as needed.
func WriteFile(path string, rules []domain.SegmentRule) error {
	data, err := yaml.Marshal(ruleFile{SegmentRules: rules})
	if err != nil {
		return eris.Wrap(err, "marshal rules")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write rules file %s", path)
	}
	return nil
}

// FromConfig picks the rule set for a run: inline segment_rules first, then
// rules_file, then DefaultRules.
func FromConfig(cfg *domain.Config) ([]domain.SegmentRule, error) {
	switch {
	case len(cfg.SegmentRules) > 0:
		return cfg.SegmentRules, nil
	case cfg.RulesFile != "":
		return LoadFile(cfg.RulesFile)
	default:
		return DefaultRules(), nil
	}
}
