// Package signal evaluates threshold rules against freshly ingested series
// and raises de-duplicated alerts.
package signal

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is one threshold on one series. CooldownSeconds of zero uses the
// detector default.
type Rule struct {
	ID              string  `yaml:"id" json:"id"`
	SeriesKey       string  `yaml:"series_key" json:"series_key"`
	Comparator      string  `yaml:"comparator" json:"comparator"`
	Threshold       float64 `yaml:"threshold" json:"threshold"`
	CooldownSeconds int     `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	Description     string  `yaml:"description" json:"description,omitempty"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

var comparators = map[string]func(v, t float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

// Compare reports whether value breaches the rule.
func (r Rule) Compare(value float64) bool {
	fn, ok := comparators[r.Comparator]
	if !ok {
		return false
	}
	return fn(value, r.Threshold)
}

// Validate checks required fields and the comparator.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is required")
	}
	if strings.TrimSpace(r.SeriesKey) == "" {
		return fmt.Errorf("rule %s: series_key is required", r.ID)
	}
	if _, ok := comparators[r.Comparator]; !ok {
		return fmt.Errorf("rule %s: unsupported comparator %q", r.ID, r.Comparator)
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("rule %s: cooldown_seconds must not be negative", r.ID)
	}
	return nil
}

// LoadRules reads a YAML file of the form `rules: [...]`. A missing file
// yields no rules.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}
	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}
