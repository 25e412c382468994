package planner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"go.yaml.in/yaml/v3"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Template placeholders expanded at plan time.
const (
	inputPlaceholder      = "{{input}}"
	lastOutputPlaceholder = "{{last_output}}"
)

// Rule maps keyword matches to a fixed plan.
type Rule struct {
	Name string `yaml:"name"`
	// Match is a list of keyword groups. Every group must contain at least
	// one keyword present in the input. Keywords with spaces match as phrases.
	Match [][]string `yaml:"match"`
	// Reply is returned when the rule has no delegations.
	Reply       string              `yaml:"reply,omitempty"`
	Delegations []models.Delegation `yaml:"delegations,omitempty"`
}

// RuleSet is the rules file format.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// RulePlanner is a deterministic keyword planner. The first matching rule wins;
// with no match it replies with a summary of what the workers can do.
type RulePlanner struct {
	rules []Rule
}

// NewRulePlanner creates a planner over rules.
func NewRulePlanner(rules []Rule) *RulePlanner {
	return &RulePlanner{rules: rules}
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules.
func ParseRules(data []byte) ([]Rule, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i, r := range set.Rules {
		if len(r.Match) == 0 {
			return nil, fmt.Errorf("rule %d (%s) has no match groups", i, r.Name)
		}
		if r.Reply == "" && len(r.Delegations) == 0 {
			return nil, fmt.Errorf("rule %d (%s) has neither reply nor delegations", i, r.Name)
		}
	}
	return set.Rules, nil
}

// DefaultRules returns the built-in roster for the search and speech workers.
func DefaultRules() []Rule {
	rules, err := ParseRules([]byte(defaultRulesYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in rules: %v", err))
	}
	return rules
}

const defaultRulesYAML = `
rules:
  - name: search-then-speak
    match:
      - [search, find, notion, "look up", titles, pages]
      - [aloud, speak, audio, voice, "read out"]
    delegations:
      - id: search
        worker: notion_agent
        payload: "{{input}}"
      - id: speak
        worker: elevenlabs_agent
        payload: "{{result:search}}"
        depends_on: [search]
  - name: speak-previous
    match:
      - [read, speak, say, aloud, audio]
      - [that, it, this, those, them]
    delegations:
      - id: speak
        worker: elevenlabs_agent
        payload: "{{last_output}}"
  - name: speak
    match:
      - [aloud, speak, audio, voice, "text to speech", tts]
    delegations:
      - id: speak
        worker: elevenlabs_agent
        payload: "{{input}}"
  - name: search
    match:
      - [search, find, notion, "look up", pages, documents]
    delegations:
      - id: search
        worker: notion_agent
        payload: "{{input}}"
  - name: greeting
    match:
      - [hello, hi, hey]
    reply: "Hello! How can I help you today?"
`

// Plan implements Planner.
func (p *RulePlanner) Plan(_ context.Context, input string, history []models.Turn, workers []models.WorkerEndpoint) (*models.Plan, error) {
	words, lower := tokenize(input)
	lastOutput := ""
	if n := len(history); n > 0 {
		lastOutput = history[n-1].Output
	}

	for _, r := range p.rules {
		if !r.matches(words, lower) {
			continue
		}
		plan, ok := r.expand(input, lastOutput)
		if !ok {
			continue
		}
		return normalize(plan)
	}
	return &models.Plan{Reply: capabilitySummary(workers)}, nil
}

func (r Rule) matches(words map[string]bool, lower string) bool {
	for _, group := range r.Match {
		hit := false
		for _, kw := range group {
			kw = strings.ToLower(kw)
			if strings.Contains(kw, " ") {
				hit = strings.Contains(lower, kw)
			} else {
				hit = words[kw]
			}
			if hit {
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// expand fills payload templates. Rules that need a previous output are
// skipped on the first turn.
func (r Rule) expand(input, lastOutput string) (*models.Plan, bool) {
	plan := &models.Plan{Reply: r.Reply}
	for _, d := range r.Delegations {
		if strings.Contains(d.Payload, lastOutputPlaceholder) && lastOutput == "" {
			return nil, false
		}
		d.Payload = strings.ReplaceAll(d.Payload, inputPlaceholder, models.QuoteLiteral(input))
		d.Payload = strings.ReplaceAll(d.Payload, lastOutputPlaceholder, models.QuoteLiteral(lastOutput))
		d.DependsOn = append([]string(nil), d.DependsOn...)
		plan.Delegations = append(plan.Delegations, d)
	}
	return plan, true
}

func tokenize(input string) (map[string]bool, string) {
	lower := strings.ToLower(input)
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words, lower
}
