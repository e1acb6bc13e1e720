package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/rollcall/pkg/types"
)

// maxContextRunes bounds the transcript excerpt embedded in a prompt.
const maxContextRunes = 2000

// IdentityMatchPrompt generates a strict JSON-only prompt asking the model to
// pick which roster entry (if any) a transcript speaker label refers to.
//
// The model must answer with {"matched_email": ..., "confidence": ...,
// "rationale": ...}; matched_email is null when no candidate fits.
func IdentityMatchPrompt(speaker, transcriptContext string, candidates []types.RosterEntry) string {
	var roster strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&roster, "%d. name=%q email=%q", i+1, c.Name, c.Email)
		if c.Handle != "" {
			fmt.Fprintf(&roster, " handle=%q", c.Handle)
		}
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&roster, " aliases=%q", strings.Join(c.Aliases, ", "))
		}
		roster.WriteByte('\n')
	}

	excerpt := strings.TrimSpace(transcriptContext)
	if r := []rune(excerpt); len(r) > maxContextRunes {
		excerpt = string(r[:maxContextRunes])
	}
	if excerpt == "" {
		excerpt = "(none)"
	}

	return fmt.Sprintf(`TASK: Decide which roster person a meeting transcript speaker label refers to.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

SPEAKER LABEL:
%q

ROSTER (choose ONLY from these emails):
%s
TRANSCRIPT EXCERPT:
%s

RULES:
1. matched_email MUST be one of the roster emails above, or null
2. Use null when the label could be several people or nobody on the roster
3. confidence is 0.0-1.0 and reflects how sure you are
4. rationale is one short sentence
5. No extra fields

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"matched_email":"person@example.com","confidence":0.7,"rationale":"..."}`, speaker, roster.String(), excerpt)
}
