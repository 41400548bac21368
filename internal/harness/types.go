package harness

// Trace event types.
const (
	EventInvocation = "invocation"
	EventCompletion = "completion"
)

// CaseOK is the completion case of an operation that succeeded. Failed
// operations complete with their failure code (e.g. NO_OPEN_SHIFT), or
// CaseError for untyped errors.
const (
	CaseOK    = "ok"
	CaseError = "error"
)

// TraceEvent is one invocation or completion in a scenario run.
type TraceEvent struct {
	Type   string         `json:"type"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Case   string         `json:"case,omitempty"`
	Result any            `json:"result,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Outbox lists the actions of every outbox entry, in enqueue order.
	Outbox []string `json:"outbox"`
	// Remote lists the actions the development remote accepted, in order.
	Remote []string `json:"remote"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Outbox: []string{},
		Remote: []string{},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace adds an invocation to the trace.
func (r *Result) AddInvocationTrace(action string, args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventInvocation,
		Action: action,
		Args:   args,
		Seq:    seq,
	})
}

// AddCompletionTrace adds a completion to the trace.
func (r *Result) AddCompletionTrace(action, outcome string, result any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventCompletion,
		Action: action,
		Case:   outcome,
		Result: result,
		Seq:    seq,
	})
}

// Completions returns the completion events, in order.
func (r *Result) Completions() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventCompletion {
			out = append(out, e)
		}
	}
	return out
}
