package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"gazeta/internal/types"
)

// parseResult decodes model output into an ExtractionResult. Models in
// JSON mode still occasionally wrap the object in markdown fences or
// prose, so recovery tries the largest brace-delimited substring.
func parseResult(output string) (*types.ExtractionResult, error) {
	cleaned := stripFences(output)

	var result types.ExtractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("model output is not JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &result); err != nil {
			return nil, fmt.Errorf("failed to decode model output: %w", err)
		}
	}

	if result.ExecutiveSummary == "" && len(result.Stories) == 0 {
		return nil, fmt.Errorf("model output contains no summary and no stories")
	}

	return &result, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
