package alerting

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/sentinel/internal/models"
)

// RulesConfig represents the top-level YAML rules file.
type RulesConfig struct {
	Rules []*models.Rule `yaml:"rules"`
}

// LoadRulesFromFile loads alert rules from a YAML file.
func LoadRulesFromFile(path string) ([]*models.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads alert rules from a reader.
func LoadRules(r io.Reader) ([]*models.Rule, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return prepareRules(config.Rules)
}

// LoadRulesFromBytes loads alert rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*models.Rule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return prepareRules(config.Rules)
}

// prepareRules assigns ids to file rules and validates every rule. File
// rules have no database id, so the name doubles as one.
func prepareRules(rules []*models.Rule) ([]*models.Rule, error) {
	seen := make(map[string]int, len(rules))
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("invalid rule at index %d: empty entry", i)
		}
		if rule.ID == "" {
			rule.ID = "file:" + rule.Name
		}
		if _, err := Compile(rule); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d (%s): %w", i, rule.Name, err)
		}
		if prev, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("invalid rule at index %d (%s): duplicate of index %d", i, rule.Name, prev)
		}
		seen[rule.ID] = i
	}
	return rules, nil
}
