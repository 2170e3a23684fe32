package project

import (
	"testing"

	"agent-memory-core/internal/errs"
	"agent-memory-core/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateProject(t *testing.T) {
	m := newTestManager(t)
	p, err := m.CreateProject("my project", map[string]interface{}{"team": "core"})
	require.NoError(t, err)

	assert.Contains(t, p.ProjectID, "my project-")
	assert.Equal(t, "my project", p.Name)
	assert.Equal(t, types.ProjectStatusActive, p.Status)
	assert.Equal(t, "core", p.Metadata["team"])
}

func TestCreateProjectRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateProject("dup", nil)
	require.NoError(t, err)

	_, err = m.CreateProject("dup", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestCreateProjectRejectsInvalidName(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateProject("", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))

	_, err = m.CreateProject("bad/name", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestGetProject(t *testing.T) {
	m := newTestManager(t)
	created, err := m.CreateProject("findme", nil)
	require.NoError(t, err)

	found, err := m.GetProject(created.ProjectID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ProjectID, found.ProjectID)

	missing, err := m.GetProject("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteProjectIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	created, err := m.CreateProject("deleteme", nil)
	require.NoError(t, err)

	ok, err := m.DeleteProject(created.ProjectID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.DeleteProject(created.ProjectID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListProjectsFiltersByStatus(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateProject("one", nil)
	require.NoError(t, err)
	_, err = m.CreateProject("two", nil)
	require.NoError(t, err)

	all, err := m.ListProjects(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	archived := types.ProjectStatusArchived
	none, err := m.ListProjects(&archived)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolveOrCreateCreatesWhenMissing(t *testing.T) {
	m := newTestManager(t)
	p, err := m.ResolveOrCreate("brand-new")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ProjectID)

	again, err := m.ResolveOrCreate("brand-new")
	require.NoError(t, err)
	assert.Equal(t, p.ProjectID, again.ProjectID)
}

func TestValidateProjectID(t *testing.T) {
	assert.True(t, ValidateProjectID("myproject-abcd1234"))
	assert.False(t, ValidateProjectID(""))
	assert.False(t, ValidateProjectID("has a space"))
}

func TestGetProjectDir(t *testing.T) {
	m := newTestManager(t)
	dir := m.GetProjectDir("some-id")
	assert.Contains(t, dir, "some-id")
}
