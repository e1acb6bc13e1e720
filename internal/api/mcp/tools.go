package mcp

// rosterEntrySchema describes one roster, chat or calendar candidate.
var rosterEntrySchema = map[string]interface{}{
	"type":     "object",
	"required": []string{"email"},
	"properties": map[string]interface{}{
		"name":    map[string]interface{}{"type": "string"},
		"email":   map[string]interface{}{"type": "string"},
		"handle":  map[string]interface{}{"type": "string"},
		"aliases": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	},
}

func candidateListSchema(description string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": rosterEntrySchema, "description": description}
}

// buildToolsList returns the canonical list of MCP tool definitions.
func buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name: "resolve_speaker",
			Description: "Resolve a speaker name from a meeting transcript to a roster identity (email). " +
				"Returns the match, its confidence, the stage that produced it and whether a human should review it. " +
				"Omit roster to use the scope's roster file.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope", "transcript_name"},
				"properties": map[string]interface{}{
					"scope":               map[string]interface{}{"type": "string", "description": "Project scope the roster and learned mappings belong to"},
					"transcript_name":     map[string]interface{}{"type": "string", "description": "Speaker label exactly as it appears in the transcript"},
					"context":             map[string]interface{}{"type": "string", "description": "Transcript excerpt around the speaker's turns"},
					"roster":              candidateListSchema("Inline roster; overrides the scope's roster file"),
					"chat_candidates":     candidateListSchema("Meeting chat participants"),
					"calendar_candidates": candidateListSchema("Calendar invite attendees"),
					"explain":             map[string]interface{}{"type": "boolean", "description": "Include the stage-by-stage trace"},
				},
			},
		},
		{
			Name:        "resolve_speakers",
			Description: "Resolve every speaker name of one transcript against the same roster and candidate sets. Results come back in request order.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope", "names"},
				"properties": map[string]interface{}{
					"scope":               map[string]interface{}{"type": "string"},
					"names":               map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Speaker labels from the transcript"},
					"context":             map[string]interface{}{"type": "string", "description": "Transcript excerpt shared by every name"},
					"roster":              candidateListSchema("Inline roster; overrides the scope's roster file"),
					"chat_candidates":     candidateListSchema("Meeting chat participants"),
					"calendar_candidates": candidateListSchema("Calendar invite attendees"),
				},
			},
		},
		{
			Name:        "confirm_speaker",
			Description: "Record that a transcript name refers to a roster identity. Future resolutions of the name in this scope return the confirmed identity.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope", "transcript_name", "resolved_email"},
				"properties": map[string]interface{}{
					"scope":           map[string]interface{}{"type": "string"},
					"transcript_name": map[string]interface{}{"type": "string"},
					"resolved_email":  map[string]interface{}{"type": "string"},
					"resolved_name":   map[string]interface{}{"type": "string"},
					"operator":        map[string]interface{}{"type": "string", "description": "Who is confirming. Auto-detected if not provided."},
				},
			},
		},
		{
			Name:        "reject_speaker",
			Description: "Dismiss a pending review without learning a mapping.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope", "transcript_name"},
				"properties": map[string]interface{}{
					"scope":           map[string]interface{}{"type": "string"},
					"transcript_name": map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Name:        "list_pending_reviews",
			Description: "List resolutions waiting for human review, oldest first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"scope": map[string]interface{}{"type": "string", "description": "Limit to one scope; omit for all"},
				},
			},
		},
		{
			Name:        "list_mappings",
			Description: "List the confirmed transcript name mappings of a scope.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope"},
				"properties": map[string]interface{}{
					"scope": map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			Name:        "forget_mapping",
			Description: "Delete a confirmed mapping so the name is resolved from scratch again.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope", "transcript_name"},
				"properties": map[string]interface{}{
					"scope":           map[string]interface{}{"type": "string"},
					"transcript_name": map[string]interface{}{"type": "string"},
					"operator":        map[string]interface{}{"type": "string", "description": "Who is deleting. Auto-detected if not provided."},
				},
			},
		},
		{
			Name:        "mapping_history",
			Description: "Show recent mapping confirmations and deletions of a scope, newest first.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"scope"},
				"properties": map[string]interface{}{
					"scope": map[string]interface{}{"type": "string"},
					"limit": map[string]interface{}{"type": "integer", "description": "Maximum events (default 50)"},
				},
			},
		},
	}
}
