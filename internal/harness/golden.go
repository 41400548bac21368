package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden record of a scenario run: each step's outcome,
// what the ledger queued for the remote and what the remote accepted.
type Snapshot struct {
	Scenario string   `json:"scenario"`
	Steps    []string `json:"steps"`
	Outbox   []string `json:"outbox"`
	Remote   []string `json:"remote"`
}

// NewSnapshot summarizes a result. Each step reads "<action> <case>".
func NewSnapshot(name string, r *Result) Snapshot {
	s := Snapshot{Scenario: name, Steps: []string{}, Outbox: r.Outbox, Remote: r.Remote}
	for _, e := range r.Completions() {
		s.Steps = append(s.Steps, fmt.Sprintf("%s %s", e.Action, e.Case))
	}
	return s
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs a scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden. Regenerate with
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()
	data, err := NewSnapshot(name, result).Marshal()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
