package extract

import (
	"fmt"
	"strings"

	"gazeta/internal/types"
)

const defaultAnalysisSystem = `You are a research analyst who reads industry newsletters and identifies the discrete stories inside them. Work through the newsletter carefully before answering.`

const defaultAnalysisTemplate = `Read the following newsletter and analyze it.

Newsletter subject: %s
Sender: %s

1. List every discrete story or announcement, one per line.
2. For each story note the key facts, companies involved, and why it matters.
3. Note any trends that cut across stories.
%s
Newsletter content:
---
%s
---`

const defaultStructureSystem = `You convert newsletter analyses into JSON. Respond with a single JSON object and nothing else.`

const defaultStructureTemplate = `Convert this analysis into JSON with the exact shape below. Omit optional fields you have nothing for. Do not invent stories that are not in the analysis.

{
  "executive_summary": "two or three sentences",
  "stories": [
    {
      "title": "...",
      "category": "...",
      "summary": "...",
      "key_facts": ["..."],
      "companies": ["..."],
      "implications": "...",
      "confidence": "high|medium|low",
      "source_url": "..."
    }
  ],
  "trend_signals": [
    {"trend": "...", "trajectory": "rising|stable|declining", "evidence": "..."}
  ]
}

Analysis:
---
%s
---`

func analysisSystem(profile types.Profile) string {
	if profile.AnalysisPrompt != "" {
		return profile.AnalysisPrompt
	}
	return defaultAnalysisSystem
}

func analysisPrompt(raw *types.RawContent, text string, profile types.Profile) string {
	focus := ""
	if len(profile.FocusAreas) > 0 {
		focus = fmt.Sprintf("4. Pay particular attention to: %s.\n", strings.Join(profile.FocusAreas, ", "))
	}
	return fmt.Sprintf(defaultAnalysisTemplate, raw.Subject, raw.Sender, focus, text)
}

func structureSystem(profile types.Profile) string {
	if profile.StructurePrompt != "" {
		return profile.StructurePrompt
	}
	return defaultStructureSystem
}

func structurePrompt(analysis string) string {
	return fmt.Sprintf(defaultStructureTemplate, analysis)
}
