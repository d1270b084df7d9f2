// Package tooldispatch routes server-requested tool invocations to
// registered handlers. A batch of calls delivered together is answered as a
// unit: every call produces exactly one response, handler failures are
// converted into textual error payloads, and calls gated on human
// confirmation await an external yes/no decision before execution.
package tooldispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/observability"
)

// Handler executes one tool call and returns its response payload.
type Handler func(ctx context.Context, call live.ToolCall) (map[string]any, error)

// BackgroundHandler runs after an immediate acknowledgment has been sent.
// Its result string is injected into the session later as a system
// notification (fire-and-forget tools, e.g. a web-browsing sub-agent).
type BackgroundHandler func(ctx context.Context, call live.ToolCall) (string, error)

// ConfirmationRequest is surfaced to the host UI when a gated tool call
// needs a decision.
type ConfirmationRequest struct {
	ID   string
	Tool string
	Args map[string]any
}

// Notifier receives asynchronous completion notices from fire-and-forget
// handlers. The session implements it by sending a system message into the
// live connection.
type Notifier func(text string)

type registration struct {
	run        Handler
	background BackgroundHandler
	ack        string
}

// Table maps tool names to handlers plus per-tool confirmation policy.
// Dispatch may be called from the receive loop only; registration and
// permission updates may happen concurrently from the host.
type Table struct {
	mu       sync.Mutex
	handlers map[string]registration
	perms    map[string]bool // name -> requires confirmation
	pending  map[string]chan bool

	onConfirm func(ConfirmationRequest)
	notify    Notifier
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{
		handlers: make(map[string]registration),
		perms:    make(map[string]bool),
		pending:  make(map[string]chan bool),
	}
}

// Register adds a synchronous handler for name.
func (t *Table) Register(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = registration{run: h}
}

// RegisterBackground adds a fire-and-forget handler for name. Dispatch
// responds immediately with ack; the handler's eventual result is delivered
// through the notifier.
func (t *Table) RegisterBackground(name, ack string, h BackgroundHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = registration{background: h, ack: ack}
}

// SetConfirmationCallback registers the host callback that surfaces
// confirmation requests. Without one, gated calls are auto-allowed rather
// than deadlocked.
func (t *Table) SetConfirmationCallback(fn func(ConfirmationRequest)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConfirm = fn
}

// SetNotifier registers the sink for fire-and-forget completion notices.
func (t *Table) SetNotifier(fn Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify = fn
}

// UpdatePermissions replaces the confirmation policy map. Tools absent from
// the map require confirmation.
func (t *Table) UpdatePermissions(perms map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perms = make(map[string]bool, len(perms))
	for k, v := range perms {
		t.perms[k] = v
	}
}

// Resolve completes a pending confirmation. The decision is delivered at
// most once; late or unknown ids are ignored.
func (t *Table) Resolve(id string, confirmed bool) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ok {
		ch <- confirmed
	}
}

// Dispatch executes a batch of tool calls and returns one response per
// call, in order. Handler errors become error strings in the response
// payload; they never abort the batch. Cancellation of ctx resolves any
// in-flight confirmation wait as denied.
func (t *Table) Dispatch(ctx context.Context, calls []live.ToolCall) []live.ToolResponse {
	responses := make([]live.ToolResponse, 0, len(calls))
	for _, call := range calls {
		responses = append(responses, t.dispatchOne(ctx, call))
	}
	return responses
}

func (t *Table) dispatchOne(ctx context.Context, call live.ToolCall) live.ToolResponse {
	resp := live.ToolResponse{ID: call.ID, Name: call.Name}

	t.mu.Lock()
	reg, known := t.handlers[call.Name]
	requires, hasPolicy := t.perms[call.Name]
	onConfirm := t.onConfirm
	notify := t.notify
	t.mu.Unlock()

	if !hasPolicy {
		// Unknown names are gated by default.
		requires = true
	}

	if !known {
		resp.Response = map[string]any{"error": fmt.Sprintf("unknown tool: %s", call.Name)}
		observability.RecordToolCall(call.Name, "unknown")
		return resp
	}

	if requires {
		if onConfirm == nil {
			// No confirmation UI registered: fail open instead of
			// deadlocking the receive loop.
			log.Printf("[tools] no confirmation callback; auto-allowing %q", call.Name)
		} else if !t.awaitConfirmation(ctx, call, onConfirm) {
			resp.Response = map[string]any{"result": "User denied the request to use this tool."}
			observability.RecordToolCall(call.Name, "denied")
			return resp
		}
	}

	if reg.background != nil {
		go t.runBackground(call, reg, notify)
		resp.Response = map[string]any{"result": reg.ack}
		observability.RecordToolCall(call.Name, "started")
		return resp
	}

	start := time.Now()
	result, err := t.execute(ctx, reg.run, call)
	observability.ObserveToolCallDuration(call.Name, time.Since(start))
	if err != nil {
		resp.Response = map[string]any{"error": err.Error()}
		observability.RecordToolCall(call.Name, "error")
		return resp
	}
	resp.Response = result
	observability.RecordToolCall(call.Name, "ok")
	return resp
}

// awaitConfirmation blocks until the host resolves the request or ctx is
// canceled (teardown cancels outstanding confirmations as denied).
func (t *Table) awaitConfirmation(ctx context.Context, call live.ToolCall, onConfirm func(ConfirmationRequest)) bool {
	id := uuid.New().String()
	ch := make(chan bool, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	log.Printf("[tools] awaiting confirmation for %q (id %s)", call.Name, id)
	onConfirm(ConfirmationRequest{ID: id, Tool: call.Name, Args: call.Args})

	select {
	case confirmed := <-ch:
		return confirmed
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return false
	}
}

// execute runs a handler, converting panics into errors so one misbehaving
// tool cannot take down the receive loop.
func (t *Table) execute(ctx context.Context, h Handler, call live.ToolCall) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()
	result, err = h(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", call.Name, err)
	}
	if result == nil {
		result = map[string]any{"result": "ok"}
	}
	return result, nil
}

func (t *Table) runBackground(call live.ToolCall, reg registration, notify Notifier) {
	// Background work outlives the connection that requested it, so it
	// runs on its own context.
	text, err := reg.background(context.Background(), call)
	if err != nil {
		log.Printf("[tools] background tool %q failed: %v", call.Name, err)
		text = fmt.Sprintf("The %s task failed: %v", call.Name, err)
	}
	if notify != nil && text != "" {
		notify(text)
	}
}
