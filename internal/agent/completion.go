package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// CompletionVerdict is the structured reply requested on completion-check
// turns. FinalSummary carries the user-facing answer once TaskComplete is
// true.
type CompletionVerdict struct {
	TaskComplete bool   `json:"taskComplete" jsonschema:"description=Whether the task is fully accomplished"`
	FinalSummary string `json:"finalSummary" jsonschema:"description=User-facing summary of the work performed"`
	Reasoning    string `json:"reasoning" jsonschema:"description=Brief explanation of the verdict"`
}

var completionSchema = mustCompletionSchema()

func mustCompletionSchema() string {
	r := &jsonschema.Reflector{DoNotReference: true}
	data, err := json.Marshal(r.Reflect(&CompletionVerdict{}))
	if err != nil {
		panic(fmt.Sprintf("reflect completion schema: %v", err))
	}
	return string(data)
}

// CompletionSchema returns the JSON Schema forced onto completion-check
// replies.
func CompletionSchema() string {
	return completionSchema
}

// InterpretCompletion inspects a model reply for the completion verdict.
// It returns the user-facing text and whether the model declared the task
// complete. Replies that do not decode as a verdict object pass through
// unchanged and count as not complete.
func InterpretCompletion(reply string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "{") {
		return reply, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return reply, false
	}
	_, hasVerdict := fields["taskComplete"]
	_, hasSummary := fields["finalSummary"]
	if !hasVerdict && !hasSummary {
		return reply, false
	}

	var verdict CompletionVerdict
	if err := json.Unmarshal([]byte(trimmed), &verdict); err != nil {
		return reply, false
	}
	text := verdict.FinalSummary
	if text == "" {
		text = reply
	}
	return text, verdict.TaskComplete
}

// completionWindow is how close to the loop cap every turn becomes a
// completion check.
const completionWindow = 2

// completionDue reports whether a scheduled completion check is requested
// at the given iteration. The first iterations are never checked, the
// final window always is, and anchors at 5 and 10 catch short tasks early.
func completionDue(iteration, maxLoops int) bool {
	if iteration < 3 {
		return false
	}
	if maxLoops-iteration <= completionWindow {
		return true
	}
	if iteration == 5 || iteration == 10 {
		return true
	}
	return iteration%checkInterval(iteration) == 0
}

// checkInterval is the divisor for scheduled checks. It tightens as the
// run grows longer and the odds of a stuck loop rise.
func checkInterval(iteration int) int {
	switch {
	case iteration < 3:
		return 1000
	case iteration < 10:
		return 10
	case iteration < 20:
		return 5
	case iteration < 30:
		return 3
	case iteration < 50:
		return 2
	default:
		return 1
	}
}
