package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// IdentityMatchResponse is the model's answer to IdentityMatchPrompt.
// A nil MatchedEmail is an explicit "no match".
type IdentityMatchResponse struct {
	MatchedEmail *string `json:"matched_email"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale"`
}

// extractJSON extracts the first balanced JSON object from text that may
// carry markdown fences or chatter around it.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}

// ParseIdentityMatchResponse parses the reply to IdentityMatchPrompt.
//
// Empty or placeholder emails ("", "null", "none") are read as no match.
// Confidence is clamped to [0,1]; a non-finite confidence is an error.
func ParseIdentityMatchResponse(raw string) (*IdentityMatchResponse, error) {
	cleaned := extractJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var resp IdentityMatchResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse identity match response: %w", err)
	}

	if math.IsNaN(resp.Confidence) || math.IsInf(resp.Confidence, 0) {
		return nil, fmt.Errorf("invalid confidence in identity match response")
	}
	resp.Confidence = math.Max(0, math.Min(1, resp.Confidence))

	if resp.MatchedEmail != nil {
		email := strings.TrimSpace(*resp.MatchedEmail)
		switch strings.ToLower(email) {
		case "", "null", "none", "n/a":
			resp.MatchedEmail = nil
		default:
			resp.MatchedEmail = &email
		}
	}
	resp.Rationale = strings.TrimSpace(resp.Rationale)
	return &resp, nil
}
