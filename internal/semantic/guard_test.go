package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckForbiddenContent(t *testing.T) {
	t.Run("passes ordinary content", func(t *testing.T) {
		reason := CheckForbiddenContent("func main() { fmt.Println(\"hi\") }", map[string]interface{}{"source": "main.go"})
		assert.Empty(t, reason)
	})

	t.Run("rejects a forbidden metadata key", func(t *testing.T) {
		reason := CheckForbiddenContent("normal text", map[string]interface{}{"user_preference": "dark mode"})
		assert.NotEmpty(t, reason)
		assert.Contains(t, reason, "user_preference")
	})

	t.Run("is case-insensitive on metadata keys", func(t *testing.T) {
		reason := CheckForbiddenContent("normal text", map[string]interface{}{"Agent_Decision": "x"})
		assert.NotEmpty(t, reason)
	})

	t.Run("rejects a forbidden phrase", func(t *testing.T) {
		reason := CheckForbiddenContent("Earlier, the user prefers tabs over spaces.", nil)
		assert.NotEmpty(t, reason)
	})

	t.Run("does not reject an isolated forbidden word used in prose", func(t *testing.T) {
		reason := CheckForbiddenContent("This episode of the release covers the new API.", nil)
		assert.Empty(t, reason)
	})

	t.Run("matches phrases case-insensitively", func(t *testing.T) {
		reason := CheckForbiddenContent("WE DECIDED TO rewrite the parser.", nil)
		assert.NotEmpty(t, reason)
	})

	t.Run("rejects the literal end-to-end scenario string", func(t *testing.T) {
		reason := CheckForbiddenContent("user prefers dark mode", nil)
		assert.NotEmpty(t, reason)
	})
}
