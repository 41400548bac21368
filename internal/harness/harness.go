package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/devremote"
	"github.com/roach88/till/internal/model"
	"github.com/roach88/till/internal/remote"
	"github.com/roach88/till/internal/replication"
	"github.com/roach88/till/internal/shift"
	"github.com/roach88/till/internal/store"
	"github.com/roach88/till/internal/ticket"
	"github.com/roach88/till/internal/void"
)

const (
	remoteSecret = "scenario-secret"

	// stepInterval is how far the clock moves before each step, so every
	// operation gets a distinct timestamp.
	stepInterval = time.Second
)

// Harness runs one scenario against a fresh till: a temp-dir ledger, the
// real managers and replication pipeline, and an in-process development
// remote reached over HTTP.
type Harness struct {
	store    *store.Store
	clock    *clock.Fake
	tickets  *ticket.Manager
	shifts   *shift.Manager
	voids    *void.Manager
	pipeline *replication.Pipeline
	remote   *devremote.Server
	tenant   string
	log      *zap.Logger

	vars map[string]string
	seq  int64
}

// Run executes a scenario and returns its result. An error means the
// scenario could not be run; failed expectations are reported in the
// result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, zap.NewNop())
}

// RunContext is Run with a caller-supplied context and logger.
func RunContext(ctx context.Context, scenario *Scenario, log *zap.Logger) (*Result, error) {
	start, err := scenario.start()
	if err != nil {
		return nil, err
	}
	rate := decimal.Zero
	if scenario.TaxRate != "" {
		if rate, err = decimal.NewFromString(scenario.TaxRate); err != nil {
			return nil, fmt.Errorf("tax_rate: %w", err)
		}
	}

	dir, err := os.MkdirTemp("", "till-scenario-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "till.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario store: %w", err)
	}
	defer st.Close()

	clk := clock.NewFake(start)
	tenant := scenario.tenant()
	log = log.With(zap.String("scenario", scenario.Name))

	srv := devremote.New(devremote.Options{Secret: remoteSecret, Clock: clk, Log: log})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := remote.NewHTTPClient(ts.URL+devremote.Path, tenant, 5*time.Second, clk,
		remote.WithSigner(remote.NewSigner(remoteSecret, time.Hour, clk)))

	pipe := replication.New(st, client, clk, log, nil, replication.Config{
		Tenant:       tenant,
		Debounce:     time.Hour,
		RetryInitial: time.Minute,
	})
	defer pipe.Close()

	h := &Harness{
		store: st,
		clock: clk,
		tickets: ticket.New(st, clk, log, ticket.Config{
			Tenant:         tenant,
			TaxRate:        func() decimal.Decimal { return rate },
			RecordAttempts: 3,
		}),
		shifts:   shift.New(st, clk, log, shift.Config{Tenant: tenant, RecordAttempts: 3}),
		voids:    void.New(st, clk, log, void.Config{PageAttempts: 3, RecordAttempts: 3}),
		pipeline: pipe,
		remote:   srv,
		tenant:   tenant,
		log:      log,
		vars:     map[string]string{},
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		outcome, _, err := h.step(ctx, step.Action, step.As, step.Args, result)
		if err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
		if outcome != CaseOK {
			return nil, fmt.Errorf("setup step %d: %s failed with %s", i, step.Action, outcome)
		}
	}
	for i, step := range scenario.Flow {
		outcome, got, err := h.step(ctx, step.Invoke, step.As, step.Args, result)
		if err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, outcome, got) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
			}
		}
	}

	if result.Outbox, err = h.outboxActions(ctx); err != nil {
		return nil, err
	}
	for _, e := range srv.Events(tenant) {
		result.Remote = append(result.Remote, e.Action)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// step runs one operation and traces it. The returned error is a harness
// failure; operation failures are reported through the outcome.
func (h *Harness) step(ctx context.Context, action, as string, raw map[string]any, result *Result) (string, any, error) {
	fn, ok := handlers[action]
	if !ok {
		return "", nil, fmt.Errorf("unknown action %q", action)
	}
	a, err := h.substitute(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", action, err)
	}

	h.clock.Advance(stepInterval)
	h.seq++
	result.AddInvocationTrace(action, raw, h.seq)

	out, opErr := fn(ctx, h, a)

	outcome := CaseOK
	var got any
	switch f, isFailure := model.AsFailure(opErr); {
	case opErr == nil:
		if got, err = normalize(out); err != nil {
			return "", nil, fmt.Errorf("%s: encode result: %w", action, err)
		}
		if as != "" {
			id, ok := entityID(got)
			if !ok {
				return "", nil, fmt.Errorf("%s: result has no id to capture as %q", action, as)
			}
			h.vars[as] = id
		}
	case isFailure:
		outcome = f.Code
	default:
		outcome = CaseError
		got = map[string]any{"error": opErr.Error()}
	}

	h.seq++
	result.AddCompletionTrace(action, outcome, h.scrub(got), h.seq)
	h.log.Debug("scenario step",
		zap.String("action", action),
		zap.String("case", outcome),
		zap.Error(opErr),
	)
	return outcome, got, nil
}

// substitute replaces "$name" string arguments with captured IDs.
func (h *Harness) substitute(raw map[string]any) (args, error) {
	out := make(args, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "$") {
			out[k] = v
			continue
		}
		id, ok := h.vars[s[1:]]
		if !ok {
			return nil, fmt.Errorf("argument %s: unknown variable %s", k, s)
		}
		out[k] = id
	}
	return out, nil
}

// scrub makes a result reproducible for traces and golden files: captured
// IDs read back as "$name", other generated row IDs as "<id>".
func (h *Harness) scrub(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = h.scrub(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = h.scrub(val)
		}
		return out
	case string:
		for name, id := range h.vars {
			if x == id {
				return "$" + name
			}
		}
		if generatedID(x) {
			return "<id>"
		}
		return x
	default:
		return v
	}
}

func generatedID(s string) bool {
	if len(s) == 36 {
		if _, err := uuid.Parse(s); err == nil {
			return true
		}
	}
	if len(s) == ulid.EncodedSize {
		if _, err := ulid.ParseStrict(s); err == nil {
			return true
		}
	}
	return false
}

// entityID picks the ID a step's result names.
func entityID(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range []string{"id", "ticketId", "shiftId"} {
		if s, ok := m[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// normalize round-trips a result through JSON so expectations compare
// against the wire shape.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Harness) outboxActions(ctx context.Context) ([]string, error) {
	var entries []store.OutboxEntry
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entries, err = tx.ListOutbox(ctx, "", 0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Action
	}
	return out, nil
}

func checkExpect(want *ExpectClause, outcome string, got any) []string {
	if want.Case != outcome {
		msg := fmt.Sprintf("expected case %s, got %s", want.Case, outcome)
		if m, ok := got.(map[string]any); ok && m["error"] != nil {
			msg += fmt.Sprintf(" (%v)", m["error"])
		}
		return []string{msg}
	}
	if len(want.Result) == 0 {
		return nil
	}
	var errs []string
	for _, key := range sortedKeys(want.Result) {
		if err := matchValue(key, want.Result[key], lookup(got, key)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func lookup(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

// matchValue compares an expected YAML value with a JSON result value.
// Maps match as subsets; numbers match numerically, including decimal
// strings.
func matchValue(path string, want, got any) error {
	switch w := want.(type) {
	case map[string]any:
		gm, ok := got.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected an object, got %v", path, got)
		}
		for _, k := range sortedKeys(w) {
			if err := matchValue(path+"."+k, w[k], gm[k]); err != nil {
				return err
			}
		}
		return nil
	case []any:
		gs, ok := got.([]any)
		if !ok || len(gs) != len(w) {
			return fmt.Errorf("%s: expected %d elements, got %v", path, len(w), got)
		}
		for i := range w {
			if err := matchValue(fmt.Sprintf("%s[%d]", path, i), w[i], gs[i]); err != nil {
				return err
			}
		}
		return nil
	case nil:
		if got != nil {
			return fmt.Errorf("%s: expected null, got %v", path, got)
		}
		return nil
	case int, int64, float64:
		wd, _ := toDecimal(w)
		gd, err := toDecimal(got)
		if err != nil || !wd.Equal(gd) {
			return fmt.Errorf("%s: expected %v, got %v", path, want, got)
		}
		return nil
	case string:
		if gs, ok := got.(string); ok && gs == w {
			return nil
		}
		// "7.35" against a decimal rendered as 7.35 or "7.350".
		wd, werr := decimal.NewFromString(w)
		gd, gerr := toDecimal(got)
		if werr == nil && gerr == nil && strings.Contains(w, ".") && wd.Equal(gd) {
			return nil
		}
		return fmt.Errorf("%s: expected %q, got %v", path, w, got)
	default:
		if fmt.Sprint(want) != fmt.Sprint(got) {
			return fmt.Errorf("%s: expected %v, got %v", path, want, got)
		}
		return nil
	}
}
