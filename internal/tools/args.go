package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Every argument is a string on the wire, even numbers and booleans; the
// executors parse them. Fields without omitempty are required in the schema.

type ListEventsArgs struct {
	Date string `json:"date,omitempty" jsonschema_description:"The target date in YYYY-MM-DD format. Use today if not specified."`
	Days string `json:"days,omitempty" jsonschema_description:"Number of days to look ahead from the date. Default 1."`
}

type CreateEventArgs struct {
	Summary     string `json:"summary" jsonschema_description:"Event title/summary"`
	Date        string `json:"date" jsonschema_description:"Event date in YYYY-MM-DD format"`
	StartTime   string `json:"start_time" jsonschema_description:"Start time in HH:MM (24h) format"`
	EndTime     string `json:"end_time,omitempty" jsonschema_description:"End time in HH:MM (24h) format. Default: 1 hour after start."`
	Location    string `json:"location,omitempty" jsonschema_description:"Event location (optional)"`
	Description string `json:"description,omitempty" jsonschema_description:"Event description (optional)"`
}

type UpdateEventArgs struct {
	SearchSummary  string `json:"search_summary" jsonschema_description:"Original event title to search for"`
	Date           string `json:"date,omitempty" jsonschema_description:"Date of the event in YYYY-MM-DD format. Default: today."`
	NewSummary     string `json:"new_summary,omitempty" jsonschema_description:"New event title (optional, only if changing title)"`
	NewStartTime   string `json:"new_start_time,omitempty" jsonschema_description:"New start time in HH:MM (24h) format (optional)"`
	NewEndTime     string `json:"new_end_time,omitempty" jsonschema_description:"New end time in HH:MM (24h) format (optional)"`
	NewDescription string `json:"new_description,omitempty" jsonschema_description:"New event description (optional)"`
	NewLocation    string `json:"new_location,omitempty" jsonschema_description:"New event location (optional)"`
}

type DeleteEventArgs struct {
	Summary string `json:"summary" jsonschema_description:"Event title to search for and delete"`
	Date    string `json:"date,omitempty" jsonschema_description:"Date of the event in YYYY-MM-DD format"`
}

type ListTasksArgs struct {
	ShowCompleted string `json:"show_completed,omitempty" jsonschema_description:"Whether to include completed tasks. Default false."`
}

type CreateTaskArgs struct {
	Title string `json:"title" jsonschema_description:"Task title"`
	Notes string `json:"notes,omitempty" jsonschema_description:"Task notes/details (optional)"`
	Due   string `json:"due,omitempty" jsonschema_description:"Due date in YYYY-MM-DD format (optional)"`
}

type CompleteTaskArgs struct {
	Title string `json:"title" jsonschema_description:"Task title to search for and complete"`
}

type DeleteTaskArgs struct {
	Title string `json:"title" jsonschema_description:"Task title to search for and delete"`
}

// newArgs returns a pointer to the zero argument struct of k.
func newArgs(k Kind) any {
	switch k {
	case ListEvents:
		return &ListEventsArgs{}
	case CreateEvent:
		return &CreateEventArgs{}
	case UpdateEvent:
		return &UpdateEventArgs{}
	case DeleteEvent:
		return &DeleteEventArgs{}
	case ListTasks:
		return &ListTasksArgs{}
	case CreateTask:
		return &CreateTaskArgs{}
	case CompleteTask:
		return &CompleteTaskArgs{}
	case DeleteTask:
		return &DeleteTaskArgs{}
	}
	return nil
}

// reflectSchema renders the JSON schema of k's argument struct.
func reflectSchema(k Kind) (json.RawMessage, error) {
	v := newArgs(k)
	if v == nil {
		return nil, fmt.Errorf("tools: no argument type for %s", k)
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal %s schema: %w", k, err)
	}
	return raw, nil
}

// argDecoder validates raw model arguments against a compiled schema before
// decoding them into the typed struct.
type argDecoder struct {
	schema *gojsonschema.Schema
}

func newArgDecoder(raw json.RawMessage) (*argDecoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema: %w", err)
	}
	return &argDecoder{schema: schema}, nil
}

func (d *argDecoder) decode(k Kind, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		return nil, errors.New("arguments are not valid JSON")
	}
	result, err := d.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate arguments: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			if e.Field() == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
				problems = append(problems, e.Description())
				continue
			}
			problems = append(problems, e.Field()+": "+e.Description())
		}
		return nil, fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}
	args := newArgs(k)
	if err := json.Unmarshal([]byte(raw), args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}
