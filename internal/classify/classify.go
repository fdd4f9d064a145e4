// Package classify tags free text with the first matching rule.
package classify

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule maps a regular expression to a tag. Higher priorities are tried first;
// rules with equal priority keep file order.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Tag      string `yaml:"tag"`
	Priority int    `yaml:"priority"`

	re *regexp.Regexp
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// Classifier holds compiled rules in evaluation order.
type Classifier struct {
	rules []Rule
}

// New compiles rules and orders them by priority.
func New(rules []Rule) (*Classifier, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Tag == "" {
			return nil, fmt.Errorf("rule %d: tag is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Tag, err)
		}
		r.re = re
		compiled = append(compiled, r)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &Classifier{rules: compiled}, nil
}

// Load reads a YAML rules file of the form `rules: [{pattern, tag, priority}]`.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}
	return New(f.Rules)
}

// Classify returns the tag of the first matching rule, or "".
func (c *Classifier) Classify(text string) string {
	if c == nil {
		return ""
	}
	for _, r := range c.rules {
		if r.re.MatchString(text) {
			return r.Tag
		}
	}
	return ""
}

// Len reports the number of rules.
func (c *Classifier) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}
