package tooldispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ambient-labs/aria/internal/calendar"
	"github.com/ambient-labs/aria/internal/live"
	"github.com/ambient-labs/aria/internal/reminder"
)

// reminderTimeLayout is the wall-clock format the model uses for the
// create_reminder "at" argument.
const reminderTimeLayout = "2006-01-02 15:04"

// Memory is the long-term memory surface the builtin tools need.
type Memory interface {
	// Search returns the most relevant stored entries for query.
	Search(ctx context.Context, query string, limit int) ([]string, error)
	// AddEntry stores one structured memory entry.
	AddEntry(ctx context.Context, kind, content string, tags []string) error
}

// Personality is the emotional-state surface the builtin tools need.
type Personality interface {
	// Adjust applies an affection delta and optional mood/energy change,
	// returning a short human-readable summary of the new state.
	Adjust(affectionDelta float64, mood string, energy *float64) string
}

// WebAgent runs long browser tasks out of band.
type WebAgent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// Device is one discovered smart home device.
type Device struct {
	Alias string `json:"alias"`
	Addr  string `json:"addr"`
	Kind  string `json:"kind"`
}

// SmartHome discovers and controls local smart devices.
type SmartHome interface {
	ListDevices(ctx context.Context) ([]Device, error)
	ControlLight(ctx context.Context, target, action string, brightness int, color string) error
}

// BuiltinDeps carries the collaborators the builtin tool set is wired to.
// Nil fields disable the corresponding tools.
type BuiltinDeps struct {
	Reminders   *reminder.Store
	Calendar    *calendar.Store
	Memory      Memory
	Personality Personality
	WebAgent    WebAgent
	SmartHome   SmartHome
	// Now is the clock used for time context and relative reminders.
	Now func() time.Time
}

// RegisterBuiltins wires the companion's builtin tool handlers into the
// table. Tools whose collaborator is nil are not registered, so the model
// never sees them declared either (see Declarations).
func (t *Table) RegisterBuiltins(deps BuiltinDeps) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	t.Register("get_time_context", func(context.Context, live.ToolCall) (map[string]any, error) {
		return timeContext(now()), nil
	})

	if deps.Reminders != nil {
		t.Register("create_reminder", func(ctx context.Context, call live.ToolCall) (map[string]any, error) {
			return createReminder(ctx, deps.Reminders, call, now())
		})
		t.Register("list_reminders", func(ctx context.Context, _ live.ToolCall) (map[string]any, error) {
			list := deps.Reminders.List(ctx)
			out := make([]map[string]any, 0, len(list))
			for _, r := range list {
				out = append(out, map[string]any{
					"id":      r.ID,
					"message": r.Message,
					"at":      r.At.Format(time.RFC3339),
				})
			}
			return map[string]any{"reminders": out}, nil
		})
		t.Register("cancel_reminder", func(ctx context.Context, call live.ToolCall) (map[string]any, error) {
			id := argString(call.Args, "id")
			if id == "" {
				return nil, errors.New("reminder id is required")
			}
			if err := deps.Reminders.Cancel(ctx, id); err != nil {
				return nil, err
			}
			return map[string]any{"result": "canceled"}, nil
		})
	}

	if deps.Calendar != nil {
		t.Register("create_event", func(_ context.Context, call live.ToolCall) (map[string]any, error) {
			start, err := time.Parse(time.RFC3339, argString(call.Args, "start_iso"))
			if err != nil {
				return nil, fmt.Errorf("parse start_iso: %w", err)
			}
			end, err := time.Parse(time.RFC3339, argString(call.Args, "end_iso"))
			if err != nil {
				return nil, fmt.Errorf("parse end_iso: %w", err)
			}
			e, err := deps.Calendar.Create(argString(call.Args, "summary"), start, end, argString(call.Args, "description"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": e.ID, "summary": e.Summary}, nil
		})
		t.Register("list_events", func(_ context.Context, call live.ToolCall) (map[string]any, error) {
			start, err := time.Parse(time.RFC3339, argString(call.Args, "start_range_iso"))
			if err != nil {
				return nil, fmt.Errorf("parse start_range_iso: %w", err)
			}
			end, err := time.Parse(time.RFC3339, argString(call.Args, "end_range_iso"))
			if err != nil {
				return nil, fmt.Errorf("parse end_range_iso: %w", err)
			}
			events := deps.Calendar.List(start, end)
			out := make([]map[string]any, 0, len(events))
			for _, e := range events {
				out = append(out, map[string]any{
					"id":      e.ID,
					"summary": e.Summary,
					"start":   e.Start.Format(time.RFC3339),
					"end":     e.End.Format(time.RFC3339),
				})
			}
			return map[string]any{"events": out}, nil
		})
		t.Register("delete_event", func(_ context.Context, call live.ToolCall) (map[string]any, error) {
			id := argString(call.Args, "event_id")
			if id == "" {
				return nil, errors.New("event_id is required")
			}
			if err := deps.Calendar.Delete(id); err != nil {
				return nil, err
			}
			return map[string]any{"result": "deleted"}, nil
		})
	}

	if deps.Memory != nil {
		t.Register("memory_search", func(ctx context.Context, call live.ToolCall) (map[string]any, error) {
			query := argString(call.Args, "query")
			if query == "" {
				return nil, errors.New("query is required")
			}
			limit := argInt(call.Args, "limit", 5)
			entries, err := deps.Memory.Search(ctx, query, limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"entries": entries}, nil
		})
		t.Register("memory_add_entry", func(ctx context.Context, call live.ToolCall) (map[string]any, error) {
			content := argString(call.Args, "content")
			if content == "" {
				return nil, errors.New("content is required")
			}
			if err := deps.Memory.AddEntry(ctx, argString(call.Args, "type"), content, argStrings(call.Args, "tags")); err != nil {
				return nil, err
			}
			return map[string]any{"result": "stored"}, nil
		})
	}

	if deps.Personality != nil {
		t.Register("update_personality", func(_ context.Context, call live.ToolCall) (map[string]any, error) {
			var energy *float64
			if v, ok := argFloat(call.Args, "energy"); ok {
				energy = &v
			}
			delta, _ := argFloat(call.Args, "affection_delta")
			summary := deps.Personality.Adjust(delta, argString(call.Args, "mood"), energy)
			return map[string]any{"result": summary}, nil
		})
	}

	if deps.WebAgent != nil {
		t.RegisterBackground("run_web_agent",
			"Browser agent started. The result will arrive as a system notification; do not reply to this message.",
			func(ctx context.Context, call live.ToolCall) (string, error) {
				prompt := argString(call.Args, "prompt")
				if prompt == "" {
					return "", errors.New("prompt is required")
				}
				return deps.WebAgent.Run(ctx, prompt)
			})
	}

	if deps.SmartHome != nil {
		t.Register("list_smart_devices", func(ctx context.Context, _ live.ToolCall) (map[string]any, error) {
			devices, err := deps.SmartHome.ListDevices(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"devices": devices}, nil
		})
		t.Register("control_light", func(ctx context.Context, call live.ToolCall) (map[string]any, error) {
			target := argString(call.Args, "target")
			action := argString(call.Args, "action")
			if target == "" || action == "" {
				return nil, errors.New("target and action are required")
			}
			err := deps.SmartHome.ControlLight(ctx, target, action,
				argInt(call.Args, "brightness", -1), argString(call.Args, "color"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": "ok"}, nil
		})
	}
}

// timeContext describes the current local time the way the model expects.
func timeContext(now time.Time) map[string]any {
	zone, offset := now.Zone()
	return map[string]any{
		"iso":       now.Format(time.RFC3339),
		"date":      now.Format("2006-01-02"),
		"time":      now.Format("15:04"),
		"weekday":   now.Weekday().String(),
		"timezone":  zone,
		"utcOffset": offset / 3600,
	}
}

// createReminder resolves the exactly-one-of at/in_minutes/in_seconds
// contract and schedules the reminder.
func createReminder(ctx context.Context, store *reminder.Store, call live.ToolCall, now time.Time) (map[string]any, error) {
	message := argString(call.Args, "message")
	if message == "" {
		return nil, errors.New("message is required")
	}

	var when time.Time
	given := 0
	if at := argString(call.Args, "at"); at != "" {
		given++
		parsed, err := time.ParseInLocation(reminderTimeLayout, at, now.Location())
		if err != nil {
			return nil, fmt.Errorf("parse at: %w", err)
		}
		when = parsed
	}
	if _, ok := call.Args["in_minutes"]; ok {
		given++
		when = now.Add(time.Duration(argInt(call.Args, "in_minutes", 0)) * time.Minute)
	}
	if _, ok := call.Args["in_seconds"]; ok {
		given++
		when = now.Add(time.Duration(argInt(call.Args, "in_seconds", 0)) * time.Second)
	}
	if given != 1 {
		return nil, errors.New("provide exactly one of 'at', 'in_minutes', or 'in_seconds'")
	}

	r, err := store.Create(ctx, message, when)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": r.ID, "at": r.At.Format(time.RFC3339)}, nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// argInt tolerates the float64 that JSON decoding produces for numbers.
func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
