package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tgw_go/pkg/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sessions"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func writeSession(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.Ensure(id))
	require.NoError(t, os.WriteFile(s.SessionPath(id), []byte(`{"Version":1}`), 0o600))
}

func TestListReturnsOnlyAccountsWithSession(t *testing.T) {
	s := newTestStore(t)
	writeSession(t, s, "b")
	writeSession(t, s, "a")
	require.NoError(t, s.Ensure("empty"))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "stray.txt"), []byte("x"), 0o600))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDeleteRemovesDirectoryAndToleratesAbsence(t *testing.T) {
	s := newTestStore(t)
	writeSession(t, s, "acct-1")
	require.True(t, s.Exists("acct-1"))

	require.NoError(t, s.Delete("acct-1"))
	assert.False(t, s.Exists("acct-1"))
	_, err := os.Stat(s.Dir("acct-1"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Delete("acct-1"))
}

func TestOpaqueAccountIDsStayInsideDir(t *testing.T) {
	s := newTestStore(t)
	ids := []string{"../x", "a/b", "acct 1", "tenant:42", "user@example.com", ".."}
	for _, id := range ids {
		writeSession(t, s, id)
		assert.Equal(t, s.dir, filepath.Dir(s.Dir(id)), id)
	}

	got, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)

	require.NoError(t, s.Delete("a/b"))
	assert.False(t, s.Exists("a/b"))
	assert.True(t, s.Exists("../x"))
}

func TestRejectsEmptyAndOversizedIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", strings.Repeat("a", session.MaxAccountIDLen+1)} {
		assert.True(t, errors.Is(s.Ensure(id), session.ErrValidation))
		assert.True(t, errors.Is(s.Delete(id), session.ErrValidation))
		assert.False(t, s.Exists(id))
	}
}

func TestListSkipsForeignDirs(t *testing.T) {
	s := newTestStore(t)
	writeSession(t, s, "a")
	require.NoError(t, os.MkdirAll(filepath.Join(s.dir, "not+base64"), 0o700))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestListOnMissingDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.RemoveAll(s.dir))
	ids, err := s.List()
	assert.NoError(t, err)
	assert.Empty(t, ids)
}
