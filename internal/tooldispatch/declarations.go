package tooldispatch

import "google.golang.org/genai"

// Declarations returns the function declarations for every builtin tool
// that RegisterBuiltins would wire for the same deps. Keeping the two in
// lockstep means the model is never offered a tool that cannot run.
func Declarations(deps BuiltinDeps) []*genai.FunctionDeclaration {
	decls := []*genai.FunctionDeclaration{
		{
			Name:        "get_time_context",
			Description: "Returns the current local date, time, weekday and time zone.",
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
		},
	}

	if deps.Reminders != nil {
		decls = append(decls,
			&genai.FunctionDeclaration{
				Name:        "create_reminder",
				Description: "Creates a reminder/timer. Use exactly one of: 'at' (YYYY-MM-DD HH:MM, local time), 'in_minutes', or 'in_seconds'.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"message":    {Type: genai.TypeString, Description: "What to remind about."},
						"at":         {Type: genai.TypeString, Description: "When to remind (YYYY-MM-DD HH:MM)."},
						"in_minutes": {Type: genai.TypeInteger, Description: "Remind in N minutes."},
						"in_seconds": {Type: genai.TypeInteger, Description: "Remind in N seconds (useful for timers)."},
					},
					Required: []string{"message"},
				},
			},
			&genai.FunctionDeclaration{
				Name:        "list_reminders",
				Description: "Lists scheduled reminders.",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
			&genai.FunctionDeclaration{
				Name:        "cancel_reminder",
				Description: "Cancels a scheduled reminder by id.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"id": {Type: genai.TypeString, Description: "Reminder id."},
					},
					Required: []string{"id"},
				},
			},
		)
	}

	if deps.Calendar != nil {
		decls = append(decls,
			&genai.FunctionDeclaration{
				Name:        "create_event",
				Description: "Creates a new calendar event. Requires a summary plus start and end times in ISO 8601 format.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"summary":     {Type: genai.TypeString, Description: "The title or summary of the event."},
						"start_iso":   {Type: genai.TypeString, Description: "Start time in ISO 8601 format (e.g. '2026-05-21T10:00:00Z')."},
						"end_iso":     {Type: genai.TypeString, Description: "End time in ISO 8601 format."},
						"description": {Type: genai.TypeString, Description: "An optional longer description."},
					},
					Required: []string{"summary", "start_iso", "end_iso"},
				},
			},
			&genai.FunctionDeclaration{
				Name:        "list_events",
				Description: "Lists calendar events within a time range. Holidays and the user's birthday are included.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"start_range_iso": {Type: genai.TypeString, Description: "Start of the range in ISO 8601 format."},
						"end_range_iso":   {Type: genai.TypeString, Description: "End of the range in ISO 8601 format."},
					},
					Required: []string{"start_range_iso", "end_range_iso"},
				},
			},
			&genai.FunctionDeclaration{
				Name:        "delete_event",
				Description: "Deletes a calendar event by its ID.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"event_id": {Type: genai.TypeString, Description: "The unique ID of the event to delete."},
					},
					Required: []string{"event_id"},
				},
			},
		)
	}

	if deps.Memory != nil {
		decls = append(decls,
			&genai.FunctionDeclaration{
				Name:        "memory_search",
				Description: "Searches long-term memory and returns the most relevant entries.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": {Type: genai.TypeString, Description: "Search query."},
						"limit": {Type: genai.TypeInteger, Description: "Max results (default 5)."},
					},
					Required: []string{"query"},
				},
			},
			&genai.FunctionDeclaration{
				Name:        "memory_add_entry",
				Description: "Adds a structured entry (fact, preference, event, reflection) to long-term memory.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":    {Type: genai.TypeString, Description: "Entry type (fact, preference, event, reflection)."},
						"content": {Type: genai.TypeString, Description: "Main content of the memory entry."},
						"tags":    {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Optional tags."},
					},
					Required: []string{"type", "content"},
				},
			},
		)
	}

	if deps.Personality != nil {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        "update_personality",
			Description: "Updates your internal emotional state and affection level when the user does something that affects your mood or bond.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"affection_delta": {Type: genai.TypeNumber, Description: "Change in affection (e.g. +0.5, -1.0)."},
					"mood":            {Type: genai.TypeString, Description: "New mood (e.g. 'happy', 'reflective')."},
					"energy":          {Type: genai.TypeNumber, Description: "New energy level (0.0-1.0)."},
				},
			},
		})
	}

	if deps.WebAgent != nil {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        "run_web_agent",
			Description: "Opens a web browser and performs a task according to the prompt. Runs in the background.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"prompt": {Type: genai.TypeString, Description: "Detailed instructions for the browser agent."},
				},
				Required: []string{"prompt"},
			},
		})
	}

	if deps.SmartHome != nil {
		decls = append(decls,
			&genai.FunctionDeclaration{
				Name:        "list_smart_devices",
				Description: "Lists all available smart home devices (lights, plugs, etc.) on the network.",
				Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}},
			},
			&genai.FunctionDeclaration{
				Name:        "control_light",
				Description: "Controls a smart light device.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"target":     {Type: genai.TypeString, Description: "Device IP address. Prefer the IP over the alias for reliability."},
						"action":     {Type: genai.TypeString, Description: "'turn_on', 'turn_off', or 'set'."},
						"brightness": {Type: genai.TypeInteger, Description: "Optional brightness level (0-100)."},
						"color":      {Type: genai.TypeString, Description: "Optional color name (e.g. 'red', 'warm')."},
					},
					Required: []string{"target", "action"},
				},
			},
		)
	}

	return decls
}
