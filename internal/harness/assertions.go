package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/store"
)

// validIdentifier matches SQL identifiers that may be interpolated into
// final_state queries.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventCompletion {
				fmt.Fprintf(&buf, "  [%d] %s -> %s\n", i+1, event.Action, event.Case)
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks that some invocation of the action had args
// matching the expected subset.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Type == EventInvocation && event.Action == a.Action && matchArgs(event.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", a.Action, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the actions were first invoked in the given
// order. Other actions may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventInvocation {
			continue
		}
		for _, want := range a.Actions {
			if event.Action == want && positions[want] == 0 {
				positions[want] = i + 1
			}
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks how many times the action completed successfully.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventCompletion && event.Action == a.Action && event.Case == CaseOK {
			count++
		}
	}
	return countError(AssertTraceCount, a, count, trace)
}

func assertRemoteCount(remote []string, a Assertion) error {
	return countError(AssertRemoteCount, a, countOf(remote, a.Action), nil)
}

func assertOutboxCount(ctx context.Context, st *store.Store, outbox []string, a Assertion) error {
	if a.Status == "" {
		return countError(AssertOutboxCount, a, countOf(outbox, a.Action), nil)
	}
	var entries []store.OutboxEntry
	err := st.View(ctx, func(tx *store.Tx) error {
		var err error
		entries, err = tx.ListOutbox(ctx, store.OutboxStatus(a.Status), 0)
		return err
	})
	if err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}
	count := 0
	for _, e := range entries {
		if e.Action == a.Action {
			count++
		}
	}
	return countError(AssertOutboxCount, a, count, nil)
}

func assertAuditCount(ctx context.Context, st *store.Store, a Assertion) error {
	var entries []model.AuditEntry
	err := st.View(ctx, func(tx *store.Tx) error {
		var err error
		entries, err = tx.ListAudit(ctx, store.AuditFilter{Actions: []model.Action{model.Action(a.Action)}})
		return err
	})
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	return countError(AssertAuditCount, a, len(entries), nil)
}

func countOf(actions []string, action string) int {
	n := 0
	for _, a := range actions {
		if a == action {
			n++
		}
	}
	return n
}

func countError(kind string, a Assertion, count int, trace []TraceEvent) error {
	if count == a.Count {
		return nil
	}
	what := a.Action
	if a.Status != "" {
		what += " (" + a.Status + ")"
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
		Actual:   fmt.Sprintf("%d occurrences", count),
		Trace:    trace,
	}
}

// assertFinalState checks that exactly one row of a ledger table matches
// Where and carries the Expect values. Values are bound as parameters;
// identifiers are validated before interpolation.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}
	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := make(map[string]any, len(columns))
	for i, col := range columns {
		actual[col] = values[i]
	}
	for _, key := range sortedKeys(a.Expect) {
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(a.Expect[key], got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, a.Expect[key], a.Expect[key]),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause builds a parameterized WHERE clause. Keys are sorted so
// the query is deterministic.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool, float64:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a SQLite column
// value. SQLite hands back int64 for integers and 0/1 for booleans.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		return matchValue("", exp, actual) == nil
	case bool:
		switch act := actual.(type) {
		case bool:
			return act == exp
		case int64:
			return exp == (act != 0)
		}
		return false
	case int, int64, float64:
		return matchValue("", exp, actual) == nil
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

// matchArgs reports whether actual contains every expected arg.
func matchArgs(actual, expected map[string]any) bool {
	for _, key := range sortedKeys(expected) {
		got, ok := actual[key]
		if !ok || matchValue(key, expected[key], got) != nil {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext gives assertions access to the finished ledger.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		needsStore := a.Type == AssertFinalState || a.Type == AssertAuditCount ||
			(a.Type == AssertOutboxCount && a.Status != "")
		if needsStore && (actx == nil || actx.Store == nil) {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %s requires database context", i, a.Type))
			continue
		}

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertRemoteCount:
			err = assertRemoteCount(result.Remote, a)
		case AssertOutboxCount:
			var st *store.Store
			ctx := context.Background()
			if actx != nil {
				st, ctx = actx.Store, actx.Ctx
			}
			err = assertOutboxCount(ctx, st, result.Outbox, a)
		case AssertAuditCount:
			err = assertAuditCount(actx.Ctx, actx.Store, a)
		case AssertFinalState:
			err = assertFinalState(actx.Ctx, actx.Store, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
