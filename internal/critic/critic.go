// Package critic reviews completed cells. Reviews are advisory metadata
// attached to the cell's execution log; they never alter run control flow.
package critic

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/renga/internal/model"
)

// Heuristic is a rule-based reviewer. It flags empty outputs and outputs
// that look like error reports. Deployments wanting model-backed review
// plug their own implementation into the engine instead.
type Heuristic struct{}

var errorMarkers = []string{"error", "failed", "exception", "panic", "traceback"}

// Review assesses a completed cell's output.
func (Heuristic) Review(ctx context.Context, cell model.Cell, output any) (model.ReviewRecord, error) {
	rec := model.ReviewRecord{Approved: true, Confidence: 90}

	switch out := output.(type) {
	case nil:
		if cell.CellType != model.CellTypeNote {
			rec.Confidence = 60
			rec.Issues = append(rec.Issues, "cell produced no output")
			rec.Suggestions = append(rec.Suggestions, "check the executor returned a response body")
		}
	case string:
		if marker := findMarker(out); marker != "" {
			rec.Approved = false
			rec.Confidence = 40
			rec.Issues = append(rec.Issues, fmt.Sprintf("output contains %q despite successful execution", marker))
		}
	case map[string]any:
		if _, ok := out["error"]; ok {
			rec.Approved = false
			rec.Confidence = 40
			rec.Issues = append(rec.Issues, "output carries an error field despite successful execution")
		}
	}

	if rec.Approved {
		rec.Reasoning = "output passed heuristic checks"
	} else {
		rec.Reasoning = "output looks like an error report"
	}
	return rec, nil
}

func findMarker(s string) string {
	lower := strings.ToLower(s)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}
