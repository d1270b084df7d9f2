package tooldispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/observability"
)

func openTable() *Table {
	t := NewTable()
	// Tests opt into confirmation per case.
	t.UpdatePermissions(map[string]bool{
		"echo": false, "boom": false, "slow": false, "browse": false,
	})
	return t
}

func echoHandler(_ context.Context, call live.ToolCall) (map[string]any, error) {
	return map[string]any{"result": call.Args["msg"]}, nil
}

func TestBatchAtomicity(t *testing.T) {
	tbl := openTable()
	tbl.Register("echo", echoHandler)
	tbl.Register("boom", func(context.Context, live.ToolCall) (map[string]any, error) {
		return nil, errors.New("kaput")
	})

	calls := []live.ToolCall{
		{ID: "1", Name: "echo", Args: map[string]any{"msg": "a"}},
		{ID: "2", Name: "boom"},
		{ID: "3", Name: "echo", Args: map[string]any{"msg": "c"}},
	}
	resps := tbl.Dispatch(context.Background(), calls)

	require.Len(t, resps, 3)
	assert.Equal(t, "1", resps[0].ID)
	assert.Equal(t, "a", resps[0].Response["result"])
	assert.Contains(t, resps[1].Response["error"], "kaput")
	assert.Equal(t, "c", resps[2].Response["result"])
}

func TestDispatchObservesCallDuration(t *testing.T) {
	observability.InitMetrics()

	tbl := openTable()
	tbl.Register("echo", echoHandler)
	tbl.Dispatch(context.Background(), []live.ToolCall{
		{ID: "1", Name: "echo", Args: map[string]any{"msg": "a"}},
	})

	n, err := promtestutil.GatherAndCount(prometheus.DefaultGatherer, "aria_tool_call_duration_seconds")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1, "dispatch must time the handler")
}

func TestPanickingHandlerContained(t *testing.T) {
	tbl := openTable()
	tbl.Register("boom", func(context.Context, live.ToolCall) (map[string]any, error) {
		panic("oh no")
	})

	resps := tbl.Dispatch(context.Background(), []live.ToolCall{{ID: "1", Name: "boom"}})
	require.Len(t, resps, 1)
	assert.Contains(t, resps[0].Response["error"], "panicked")
}

func TestUnknownToolGetsErrorResponse(t *testing.T) {
	tbl := NewTable()
	tbl.UpdatePermissions(map[string]bool{"nothere": false})

	resps := tbl.Dispatch(context.Background(), []live.ToolCall{{ID: "x", Name: "nothere"}})
	require.Len(t, resps, 1)
	assert.Contains(t, resps[0].Response["error"], "unknown tool")
}

func TestConfirmationDenied(t *testing.T) {
	tbl := NewTable()
	tbl.Register("echo", echoHandler)
	tbl.UpdatePermissions(map[string]bool{"echo": true})

	tbl.SetConfirmationCallback(func(req ConfirmationRequest) {
		go tbl.Resolve(req.ID, false)
	})

	resps := tbl.Dispatch(context.Background(), []live.ToolCall{{ID: "1", Name: "echo"}})
	require.Len(t, resps, 1)
	assert.Contains(t, resps[0].Response["result"], "denied")
}

func TestConfirmationGranted(t *testing.T) {
	tbl := NewTable()
	tbl.Register("echo", echoHandler)
	tbl.UpdatePermissions(map[string]bool{"echo": true})

	var captured ConfirmationRequest
	tbl.SetConfirmationCallback(func(req ConfirmationRequest) {
		captured = req
		go tbl.Resolve(req.ID, true)
	})

	resps := tbl.Dispatch(context.Background(), []live.ToolCall{
		{ID: "1", Name: "echo", Args: map[string]any{"msg": "hi"}},
	})
	require.Len(t, resps, 1)
	assert.Equal(t, "hi", resps[0].Response["result"])
	assert.Equal(t, "echo", captured.Tool)
	assert.NotEmpty(t, captured.ID)
}

func TestNoConfirmationCallbackFailsOpen(t *testing.T) {
	tbl := NewTable()
	tbl.Register("echo", echoHandler)
	// No permission entry: requires confirmation by default. No callback
	// registered: must auto-allow rather than deadlock.

	done := make(chan []live.ToolResponse, 1)
	go func() {
		done <- tbl.Dispatch(context.Background(), []live.ToolCall{
			{ID: "1", Name: "echo", Args: map[string]any{"msg": "ok"}},
		})
	}()

	select {
	case resps := <-done:
		require.Len(t, resps, 1)
		assert.Equal(t, "ok", resps[0].Response["result"])
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch deadlocked without a confirmation callback")
	}
}

func TestTeardownResolvesConfirmationAsDenied(t *testing.T) {
	tbl := NewTable()
	tbl.Register("echo", echoHandler)
	tbl.UpdatePermissions(map[string]bool{"echo": true})
	tbl.SetConfirmationCallback(func(ConfirmationRequest) {}) // never resolves

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []live.ToolResponse, 1)
	go func() {
		done <- tbl.Dispatch(ctx, []live.ToolCall{{ID: "1", Name: "echo"}})
	}()

	cancel()
	select {
	case resps := <-done:
		require.Len(t, resps, 1)
		assert.Contains(t, resps[0].Response["result"], "denied")
	case <-time.After(2 * time.Second):
		t.Fatal("canceled confirmation did not resolve")
	}
}

func TestResolveIsOneShot(t *testing.T) {
	tbl := NewTable()
	// Resolving an unknown id must be a no-op, not a panic or a hang.
	tbl.Resolve("no-such-id", true)
	tbl.Resolve("no-such-id", false)
}

func TestFireAndForget(t *testing.T) {
	tbl := openTable()

	var mu sync.Mutex
	var notices []string
	tbl.SetNotifier(func(text string) {
		mu.Lock()
		notices = append(notices, text)
		mu.Unlock()
	})

	started := make(chan struct{})
	tbl.RegisterBackground("browse", "Browsing started. Do not reply to this message.",
		func(_ context.Context, call live.ToolCall) (string, error) {
			close(started)
			return "Browsing finished: found it.", nil
		})

	resps := tbl.Dispatch(context.Background(), []live.ToolCall{{ID: "1", Name: "browse"}})
	require.Len(t, resps, 1)
	assert.Contains(t, resps[0].Response["result"], "started")

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("background handler never ran")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notices) == 1 && notices[0] == "Browsing finished: found it."
	}, 2*time.Second, 10*time.Millisecond)
}
