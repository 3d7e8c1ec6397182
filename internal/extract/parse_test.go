package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
	"executive_summary": "Two funding rounds dominate this issue.",
	"stories": [
		{"title": "Acme raises $10M", "category": "funding", "summary": "Series A.", "key_facts": ["$10M", "led by XYZ"]}
	],
	"trend_signals": [
		{"trend": "AI tooling consolidation", "trajectory": "rising"}
	]
}`

func TestParseResult(t *testing.T) {
	result, err := parseResult(sampleJSON)
	require.NoError(t, err)

	assert.Equal(t, "Two funding rounds dominate this issue.", result.ExecutiveSummary)
	require.Len(t, result.Stories, 1)
	assert.Equal(t, "Acme raises $10M", result.Stories[0].Title)
	require.Len(t, result.TrendSignals, 1)
	assert.Equal(t, "rising", result.TrendSignals[0].Trajectory)
}

func TestParseResultStripsFences(t *testing.T) {
	result, err := parseResult("```json\n" + sampleJSON + "\n```")
	require.NoError(t, err)
	assert.Len(t, result.Stories, 1)
}

func TestParseResultRecoversFromProse(t *testing.T) {
	result, err := parseResult("Here is the JSON you asked for:\n" + sampleJSON + "\nLet me know if you need anything else.")
	require.NoError(t, err)
	assert.Len(t, result.Stories, 1)
}

func TestParseResultRejectsNonJSON(t *testing.T) {
	_, err := parseResult("I could not analyze this newsletter.")
	assert.Error(t, err)
}

func TestParseResultRejectsEmptyResult(t *testing.T) {
	_, err := parseResult(`{"executive_summary": "", "stories": []}`)
	assert.Error(t, err)
}
