package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is an operational scenario: a sequence of ledger operations run
// against a fresh till, with expected outcomes and assertions on the final
// ledger, its outbox and what reached the remote.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Tenant defaults to "acme".
	Tenant string `yaml:"tenant,omitempty"`
	// TaxRate is the default tax percentage, e.g. "5". Defaults to "0".
	TaxRate string `yaml:"tax_rate,omitempty"`
	// Start is the RFC 3339 instant the clock starts at. Defaults to
	// 2026-03-14T09:00:00Z.
	Start string `yaml:"start,omitempty"`

	// Setup steps must succeed; a failing setup step aborts the run.
	Setup []ActionStep `yaml:"setup,omitempty"`

	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a setup operation.
type ActionStep struct {
	Action string         `yaml:"action"`
	As     string         `yaml:"as,omitempty"`
	Args   map[string]any `yaml:"args"`
}

// FlowStep invokes an operation and optionally checks its outcome.
type FlowStep struct {
	Invoke string `yaml:"invoke"`

	// As names the returned entity's ID so later steps can refer to it as
	// "$name".
	As string `yaml:"as,omitempty"`

	Args   map[string]any `yaml:"args"`
	Expect *ExpectClause  `yaml:"expect,omitempty"`
}

// ExpectClause is the expected completion of a flow step.
type ExpectClause struct {
	// Case is "ok" or the expected failure code.
	Case string `yaml:"case"`

	// Result is a subset match against the operation's JSON result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion checks the finished run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action names an operation (trace_*) or a remote action (outbox_count,
	// remote_count) or an audit action (audit_count).
	Action string         `yaml:"action,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Table, Where and Expect select one ledger row (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	Count   int      `yaml:"count,omitempty"`
	Actions []string `yaml:"actions,omitempty"`

	// Status narrows outbox_count to pending, sent or dropped entries.
	Status string `yaml:"status,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertOutboxCount   = "outbox_count"
	AssertAuditCount    = "audit_count"
	AssertRemoteCount   = "remote_count"
)

const defaultStart = "2026-03-14T09:00:00Z"

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (s *Scenario) tenant() string {
	if s.Tenant == "" {
		return "acme"
	}
	return s.Tenant
}

func (s *Scenario) start() (time.Time, error) {
	start := s.Start
	if start == "" {
		start = defaultStart
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t.UTC(), nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if _, err := s.start(); err != nil {
		return err
	}

	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
		if !knownAction(step.Action) {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
	}
	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if !knownAction(step.Invoke) {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
		if strings.HasPrefix(step.As, "$") {
			return fmt.Errorf("flow[%d]: as %q must not start with $", i, step.As)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceCount, AssertOutboxCount, AssertAuditCount, AssertRemoteCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Status != "" && a.Type != AssertOutboxCount {
		return fmt.Errorf("assertions[%d]: status only applies to outbox_count", index)
	}
	return nil
}
