package tail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plot.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func nextLine(t *testing.T, s *Stream) string {
	t.Helper()
	select {
	case line, ok := <-s.Lines():
		require.True(t, ok, "stream closed early: %v", s.Err())
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestOpenReadsExistingLines(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "Starting phase 1/4\r\nComputing table 1\npartial")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.Equal(t, []string{"Starting phase 1/4", "Computing table 1"}, s.Existing())
	require.Equal(t, path, s.Path())

	// the fragment is delivered once its newline arrives
	appendLog(t, path, " line\n")
	require.Equal(t, "partial line", nextLine(t, s))
}

func TestFollowDeliversAppendedLinesInOrder(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()
	require.Empty(t, s.Existing())

	appendLog(t, path, "a\nb\n")
	appendLog(t, path, "c\n")
	require.Equal(t, "a", nextLine(t, s))
	require.Equal(t, "b", nextLine(t, s))
	require.Equal(t, "c", nextLine(t, s))
}

func TestRemovalEndsStream(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "x\n")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.Lines():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, s.Err(), ErrRotated)
}

func TestCancelStopsFollowing(t *testing.T) {
	t.Parallel()

	path := writeLog(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	s, err := Open(ctx, path)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s.Lines():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Err())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.log"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
