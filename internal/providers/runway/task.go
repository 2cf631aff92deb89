package runway

import (
	"fmt"
	"math"
	"strings"

	"genstudio/internal/domain"
)

// TaskID extracts a task id from a submission response, accepting "id",
// "taskId" or a nested "task.id".
func TaskID(resp map[string]any) string {
	for _, key := range []string{"id", "taskId"} {
		if id := scalarString(resp[key]); id != "" {
			return id
		}
	}
	if task, ok := resp["task"].(map[string]any); ok {
		return scalarString(task["id"])
	}
	return ""
}

// Phase normalizes a provider status string.
func Phase(status string) domain.TaskPhase {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "completed", "complete", "done":
		return domain.TaskSucceeded
	case "failed", "failure", "error", "cancelled", "canceled":
		return domain.TaskFailed
	case "running", "processing", "in_progress":
		return domain.TaskRunning
	default:
		return domain.TaskPending
	}
}

// ParseTask converts a task document into a TaskStatus.
func ParseTask(doc map[string]any) domain.TaskStatus {
	raw := scalarString(doc["status"])
	st := domain.TaskStatus{
		Phase:     Phase(raw),
		RawStatus: raw,
		Progress:  progress(doc["progress"]),
		Output:    Outputs(doc),
	}
	if st.Phase == domain.TaskFailed {
		st.Failure = firstString(doc, "failure", "error", "message")
		if st.Failure == "" {
			st.Failure = "task " + strings.ToLower(raw)
		}
		st.FailureCode = firstString(doc, "failureCode", "code")
	}
	return st
}

// Outputs collects output references from every field providers are known
// to use. Entries may be plain strings or objects carrying a URL field.
func Outputs(doc map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	for _, key := range []string{"output", "outputs", "result", "results", "artifacts"} {
		collect(doc[key], &out, seen)
	}
	return out
}

func collect(v any, out *[]string, seen map[string]bool) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" && !seen[s] {
			seen[s] = true
			*out = append(*out, s)
		}
	case []any:
		for _, item := range t {
			collect(item, out, seen)
		}
	case map[string]any:
		for _, key := range []string{"uri", "url", "signedUrl", "href"} {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				collect(s, out, seen)
				return
			}
		}
	}
}

// progress accepts a 0-1 fraction or a 0-100 percentage.
func progress(v any) *int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || f < 0 {
		return nil
	}
	if f <= 1 {
		f *= 100
	}
	p := int(math.Round(math.Min(f, 100)))
	return &p
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := scalarString(doc[key]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
