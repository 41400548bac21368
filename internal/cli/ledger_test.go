package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/roach88/till/internal/clock"
	"github.com/roach88/till/internal/testutil"
)

// tillCLI runs commands against one scratch ledger.
type tillCLI struct {
	t      *testing.T
	config string
}

// newTillCLI writes a config file for a temp ledger and pins the clock.
func newTillCLI(t *testing.T) *tillCLI {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("tenant: acme\nactor: amy\ndb_path: %s\nlog:\n  level: error\npricing:\n  tax_rate: \"5\"\n",
		filepath.Join(dir, "till.db"))
	path := filepath.Join(dir, "till.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	clk := testutil.NewSteppingClock(testutil.At(0), time.Second)
	prev := appOptions
	appOptions = []fx.Option{fx.Decorate(func(clock.Clock) clock.Clock { return clk })}
	t.Cleanup(func() { appOptions = prev })

	return &tillCLI{t: t, config: path}
}

func (c *tillCLI) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", c.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *tillCLI) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "till %v: %s", args, out)
	return out
}

// jsonData runs a command with --format json and decodes its data.
func (c *tillCLI) jsonData(args ...string) map[string]any {
	c.t.Helper()
	out := c.mustRun(append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(c.t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(c.t, "ok", resp.Status)
	return resp.Data
}

func TestCLI_Sale(t *testing.T) {
	c := newTillCLI(t)

	assert.Contains(t, c.mustRun("shift", "open"), "Shift 001 opened")
	assert.Contains(t, c.mustRun("shift", "open"), "Shift 001 is already open")
	assert.Contains(t, c.mustRun("ticket", "open", "--covers", "2"), "Ticket 001-001 opened")

	out := c.mustRun("ticket", "cart", "001-001", "--line", "Latte:2:3.50", "-l", "Muffin:1:3.00:MUF-01")
	assert.Contains(t, out, "Latte")
	assert.Contains(t, out, "MUF-01")

	out = c.mustRun("ticket", "list")
	assert.Contains(t, out, "001-001")
	assert.Contains(t, out, "amy")

	rcpt := c.jsonData("ticket", "pay", "001-001", "--tendered", "20")
	assert.Equal(t, "001-001", rcpt["ticketId"])
	assert.Equal(t, "cash", rcpt["method"])
	assert.True(t, testutil.Dec("10.50").Equal(testutil.Dec(rcpt["amount"].(string))), "amount %v", rcpt["amount"])
	assert.True(t, testutil.Dec("9.50").Equal(testutil.Dec(rcpt["change"].(string))), "change %v", rcpt["change"])

	out, err := c.run("ticket", "pay", "001-001", "--method", "card")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [TICKET_CLOSED]")

	assert.Contains(t, c.mustRun("ticket", "list"), "No open tickets.")
	out = c.mustRun("ticket", "show", "001-001")
	assert.Contains(t, out, "Ticket 001-001 (closed)")
	assert.Contains(t, out, "Paid 10.50 by cash")
}

func TestCLI_FailureAsJSON(t *testing.T) {
	c := newTillCLI(t)

	out, err := c.run("--format", "json", "ticket", "open")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.Reported())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NO_OPEN_SHIFT", resp.Error.Code)
	assert.Equal(t, "precondition", resp.Error.Details)
}

func TestCLI_BadInputIsCommandError(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")
	c.mustRun("ticket", "open")

	tests := []struct {
		name string
		args []string
	}{
		{"cart line without price", []string{"ticket", "cart", "001-001", "--line", "Latte:2"}},
		{"cart qty not a number", []string{"ticket", "cart", "001-001", "--line", "Latte:two:3.50"}},
		{"unknown pay method", []string{"ticket", "pay", "001-001", "--method", "barter"}},
		{"outbox status", []string{"outbox", "list", "--status", "lost"}},
		{"reset without yes", []string{"migrate", "--reset"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestCLI_ShiftCash(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")

	assert.Contains(t, c.mustRun("shift", "float", "100"), "Opening float set to 100.00")
	assert.Contains(t, c.mustRun("shift", "petty-float", "50"), "set to 50.00")

	out := c.mustRun("shift", "cash", "out", "5", "-d", "ice")
	assert.Contains(t, out, "balance 95")

	_, err := c.run("shift", "petty", "--", "-12.30")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	c.mustRun("shift", "petty", "-d", "milk", "--category", "supplies", "--", "-12.30")

	bal := c.jsonData("shift", "balance")
	cash := bal["cash"].(map[string]any)
	petty := bal["petty"].(map[string]any)
	assert.True(t, testutil.Dec("95").Equal(testutil.Dec(cash["current"].(string))), "cash %v", cash["current"])
	assert.True(t, testutil.Dec("37.70").Equal(testutil.Dec(petty["current"].(string))), "petty %v", petty["current"])

	out = c.mustRun("shift", "close", "--closing-float", "95", "--notes", "quiet")
	assert.Contains(t, out, "Shift 001 closed")
	assert.Contains(t, out, "Total sales")
	assert.Contains(t, c.mustRun("shift", "current"), "No open shift.")
	assert.Contains(t, c.mustRun("shift", "list"), "closed")
}

func TestCLI_VoidWorkflow(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")
	c.mustRun("ticket", "open")
	c.mustRun("ticket", "cart", "001-001", "--line", "Latte:5:3.50")

	_, err := c.run("void", "request", "001-001", "--item", "Latte", "--qty", "9", "--approver", "carol")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	req := c.jsonData("void", "request", "001-001", "--item", "Latte", "-q", "2", "--approver", "carol", "--reason", "spilled")
	id, _ := req["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", req["status"])

	assert.Contains(t, c.mustRun("void", "pending", "--approver", "carol"), "spilled")
	assert.Contains(t, c.mustRun("void", "notifications", "carol", "--unread", "--mark-read"), "*")
	assert.Contains(t, c.mustRun("void", "notifications", "carol", "--unread"), "No notifications.")

	assert.Contains(t, c.mustRun("--actor", "carol", "void", "approve", id), "approved")
	assert.Contains(t, c.mustRun("void", "pending"), "No pending void requests.")
	assert.Contains(t, c.mustRun("ticket", "show", "001-001"), "Latte")

	_, err = c.run("void", "approve", "no-such-request")
	require.Error(t, err)

	out := c.mustRun("audit", "--action", "voidApproved", "--details")
	assert.Contains(t, out, "voidApproved")
	assert.Contains(t, out, "carol")
}

func TestCLI_OfflineOutbox(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")

	out := c.mustRun("outbox", "list", "--status", "pending")
	assert.Contains(t, out, "recordShift")

	out, err := c.run("outbox", "drain")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "remote.endpoint")

	_, err = c.run("sync", "tickets")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err), out)
}

func TestCLI_Audit(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")
	c.mustRun("shift", "float", "100")

	out := c.mustRun("audit", "--shift", "001")
	assert.Contains(t, out, "shiftOpened")
	assert.Contains(t, out, "floatSet")
	assert.Contains(t, out, "shift:001")

	assert.Contains(t, c.mustRun("audit", "--entity", "ticket"), "No audit entries.")
}

func TestCLI_Report(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")
	c.mustRun("ticket", "open")
	c.mustRun("ticket", "cart", "001-001", "--line", "Latte:1:3.50")
	c.mustRun("ticket", "pay", "001-001", "--method", "card")

	path := filepath.Join(t.TempDir(), "shift.xlsx")
	assert.Contains(t, c.mustRun("report", "001", "--out", path), "Wrote "+path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = c.run("report", "999", "--out", path)
	require.Error(t, err)
}

func TestCLI_Migrate(t *testing.T) {
	c := newTillCLI(t)
	c.mustRun("shift", "open")

	data := c.jsonData("migrate")
	assert.EqualValues(t, 4, data["schemaVersion"])

	assert.Contains(t, c.mustRun("migrate", "--reset", "--yes"), "reset")
	assert.Contains(t, c.mustRun("shift", "current"), "No open shift.")
}
