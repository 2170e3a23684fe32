package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(KindNotFound, "symbolic", "GetFactById", "fact not found")

	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, "symbolic", err.Component)
	assert.Equal(t, "GetFactById", err.Operation)
	assert.Nil(t, err.Cause)
	assert.Equal(t, "[symbolic:GetFactById] fact not found", err.Error())
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(KindInternal, "episodic", "StoreEpisode", "failed to insert", cause)

	assert.Same(t, cause, err.Cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "failed to insert")
	assert.Contains(t, err.Error(), "disk full")
}

func TestKindOf(t *testing.T) {
	t.Run("direct error", func(t *testing.T) {
		err := New(KindConflict, "project", "CreateProject", "already exists")
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("wrapped through fmt.Errorf %w", func(t *testing.T) {
		inner := New(KindTimeout, "semantic", "Search", "deadline exceeded")
		outer := fmt.Errorf("search failed: %w", inner)
		assert.Equal(t, KindTimeout, KindOf(outer))
	})

	t.Run("non-Error defaults to Internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain error")))
	})

	t.Run("nil defaults to Internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(nil))
	})
}
