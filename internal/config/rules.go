package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ruleFile is the layout of a YAML rule file.
type ruleFile struct {
	Rules []*domain.RuleConfig `yaml:"rules"`
}

// LoadRules reads a YAML rule file. Rules keep the order they appear in.
func LoadRules(path string) ([]*domain.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}

	seen := make(map[string]bool, len(f.Rules))
	for i, r := range f.Rules {
		if r == nil || r.ID == "" {
			return nil, fmt.Errorf("rules file %s: rule %d has no id", path, i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rules file %s: duplicate rule id %s", path, r.ID)
		}
		seen[r.ID] = true
	}

	return f.Rules, nil
}
