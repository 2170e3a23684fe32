package logging

import (
	"testing"

	"agent-memory-core/internal/errs"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("WARNING"))
	assert.Equal(t, INFO, ParseLogLevel("bogus"))
}

func TestBuildEntryTagsKindAndFlattensFields(t *testing.T) {
	entry := buildEntry("ERROR", "lookup failed", "trace-1", "symbolic",
		string(errs.KindNotFound), "store.go", 42,
		"error", "fact not found", "error_component", "symbolic", "error_operation", "GetFact")

	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, string(errs.KindNotFound), entry.Kind)
	assert.Equal(t, "symbolic", entry.Component)
	assert.Equal(t, "symbolic", entry.Fields["error_component"])
	assert.Equal(t, "GetFact", entry.Fields["error_operation"])
}

func TestErrorErrTagsEntryWithKindOfErrsError(t *testing.T) {
	err := errs.New(errs.KindNotFound, "symbolic", "GetFact", "fact not found")

	// ErrorErr writes straight to stdout, so this checks the two lookups it
	// tags the entry with: errs.KindOf for the kind and asErrsError for the
	// component/operation. The taxonomy itself is covered in internal/errs.
	kind := errs.KindOf(err)
	assert.Equal(t, errs.KindNotFound, kind)

	var e *errs.Error
	assert.True(t, asErrsError(err, &e))
	assert.Equal(t, "symbolic", e.Component)
	assert.Equal(t, "GetFact", e.Operation)
}

func TestErrorErrOnPlainErrorDefaultsToInternalKind(t *testing.T) {
	var e *errs.Error
	assert.False(t, asErrsError(assert.AnError, &e))
	assert.Equal(t, errs.KindInternal, errs.KindOf(assert.AnError))
}
