package semantic

import "strings"

// forbiddenMetadataKeys names the metadata keys that would smuggle
// authoritative or advisory content into the non-authoritative semantic
// store (spec.md §4.4 forbidden-content guard).
var forbiddenMetadataKeys = map[string]bool{
	"user_preference": true,
	"preference":      true,
	"user_likes":      true,
	"agent_decision":  true,
	"decision":        true,
	"system_decision": true,
	"agent_lesson":    true,
	"chat_history":    true,
	"conversation":    true,
	"dialogue":        true,
}

// forbiddenPhrases are matched against lowercased chunk content as whole
// multi-word phrases (a substring search for the full phrase, never for a
// single word), so that technical prose using a forbidden word in isolation
// (e.g. "episode" alone) is not rejected.
var forbiddenPhrases = []string{
	"the user prefers",
	"user prefers",
	"the user likes",
	"user likes",
	"i decided to",
	"we decided to",
	"the agent decided",
	"lesson learned from this episode",
	"chat history:",
	"conversation history:",
}

// CheckForbiddenContent returns a human-readable reason the content/metadata
// pair must be rejected, or "" if it passes the guard.
func CheckForbiddenContent(content string, metadata map[string]interface{}) string {
	for key := range metadata {
		if forbiddenMetadataKeys[strings.ToLower(key)] {
			return "metadata key " + key + " is not permitted in the semantic store"
		}
	}

	lower := strings.ToLower(content)
	for _, phrase := range forbiddenPhrases {
		if strings.Contains(lower, phrase) {
			return "content matches forbidden phrase pattern: " + phrase
		}
	}
	return ""
}
