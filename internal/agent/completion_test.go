package agent

import (
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestCompletionDueNeverInFirstThree(t *testing.T) {
	for _, maxLoops := range []int{4, 10, 100} {
		for iteration := 0; iteration < 3; iteration++ {
			if completionDue(iteration, maxLoops) {
				t.Errorf("completionDue(%d, %d) = true on an early iteration", iteration, maxLoops)
			}
		}
	}
}

func TestCompletionDueSchedule(t *testing.T) {
	cases := []struct {
		iteration int
		maxLoops  int
		want      bool
	}{
		{3, 100, false},
		{5, 100, true},
		{6, 100, false},
		{10, 100, true},
		{12, 100, false},
		{15, 100, true},
		{19, 100, false},
		{21, 100, true},
		{22, 100, false},
		{30, 100, true},
		{31, 100, false},
		{50, 100, true},
		{77, 100, true},
		{97, 100, true},
		{98, 100, true},
		{99, 100, true},
		{26, 30, false},
		{28, 30, true},
		{29, 30, true},
	}
	for _, tc := range cases {
		if got := completionDue(tc.iteration, tc.maxLoops); got != tc.want {
			t.Errorf("completionDue(%d, %d) = %v, want %v", tc.iteration, tc.maxLoops, got, tc.want)
		}
	}
}

func TestInterpretCompletion(t *testing.T) {
	cases := []struct {
		name         string
		reply        string
		wantText     string
		wantComplete bool
	}{
		{
			name:     "plain text",
			reply:    "Hi!",
			wantText: "Hi!",
		},
		{
			name:         "complete verdict",
			reply:        `{"taskComplete":true,"finalSummary":"All done.","reasoning":"r"}`,
			wantText:     "All done.",
			wantComplete: true,
		},
		{
			name:     "incomplete verdict",
			reply:    `{"taskComplete":false,"finalSummary":"Still working."}`,
			wantText: "Still working.",
		},
		{
			name:     "summary without verdict",
			reply:    `{"finalSummary":"Partial."}`,
			wantText: "Partial.",
		},
		{
			name:     "unrelated object",
			reply:    `{"foo":1}`,
			wantText: `{"foo":1}`,
		},
		{
			name:     "malformed json",
			reply:    `{"taskComplete":`,
			wantText: `{"taskComplete":`,
		},
		{
			name:     "wrong field type",
			reply:    `{"taskComplete":"yes"}`,
			wantText: `{"taskComplete":"yes"}`,
		},
		{
			name:         "complete with empty summary",
			reply:        `{"taskComplete":true,"finalSummary":""}`,
			wantText:     `{"taskComplete":true,"finalSummary":""}`,
			wantComplete: true,
		},
		{
			name:         "leading whitespace",
			reply:        "\n  {\"taskComplete\":true,\"finalSummary\":\"Done.\"}",
			wantText:     "Done.",
			wantComplete: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, complete := InterpretCompletion(tc.reply)
			if text != tc.wantText {
				t.Errorf("text = %q, want %q", text, tc.wantText)
			}
			if complete != tc.wantComplete {
				t.Errorf("complete = %v, want %v", complete, tc.wantComplete)
			}
		})
	}
}

func TestCompletionSchemaShape(t *testing.T) {
	raw := CompletionSchema()

	var schema struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("type = %q, want object", schema.Type)
	}
	for _, field := range []string{"taskComplete", "finalSummary", "reasoning"} {
		if _, ok := schema.Properties[field]; !ok {
			t.Errorf("schema missing property %q", field)
		}
	}
	if len(schema.Required) != 3 {
		t.Errorf("required = %v, want all three fields", schema.Required)
	}

	// The schema must itself be valid and accept a real verdict.
	compiled, err := jsonschema.CompileString("completion.schema.json", raw)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	var verdict any
	doc := `{"taskComplete":true,"finalSummary":"done","reasoning":"because"}`
	if err := json.Unmarshal([]byte(doc), &verdict); err != nil {
		t.Fatal(err)
	}
	if err := compiled.Validate(verdict); err != nil {
		t.Errorf("verdict rejected by own schema: %v", err)
	}
}
