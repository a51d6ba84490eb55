package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You are an audio review analyst. You receive the combined transcripts of ` +
	`every recording in a review session, each introduced by a "=== File N:" header. Respond with JSON only, ` +
	`using this shape: {"summary": string, "highlights": [{"file": string, "quote": string, "note": string}], ` +
	`"themes": [string]}. Base every highlight on a direct quote from a transcript.`

// Insights is the structured interpretation of the model's analysis response.
type Insights struct {
	Summary    string      `json:"summary"`
	Highlights []Highlight `json:"highlights"`
	Themes     []string    `json:"themes"`
}

// Highlight ties a notable quote back to the recording it came from.
type Highlight struct {
	File  string `json:"file"`
	Quote string `json:"quote"`
	Note  string `json:"note"`
}

// ParseInsights decodes the model response into structured insights,
// tolerating common formatting quirks such as code fences.
func ParseInsights(response string) (Insights, error) {
	var insights Insights
	if err := decodeModelJSON(response, &insights); err != nil {
		return Insights{}, fmt.Errorf("parse insights: %w", err)
	}
	insights.Summary = strings.TrimSpace(insights.Summary)
	if insights.Summary == "" {
		return Insights{}, errors.New("parse insights: response missing summary")
	}
	return insights, nil
}

// decodeModelJSON decodes JSON from a model response, handling common
// formatting quirks (code fences, leading prose around the JSON object).
func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, summarizeSnippet(trimmed))
	}

	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, summarizeSnippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func summarizeSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := strings.Join(strings.Fields(replacer.Replace(trimmed)), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
