package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tokens []string
		want   map[string]string
	}{
		{
			name:   "short with values",
			tokens: []string{"chia", "plots", "create", "-k", "32", "-t", "/tmp"},
			want:   map[string]string{"k": "32", "t": "/tmp"},
		},
		{
			name:   "long equals and boolean",
			tokens: []string{"--tmp_dir=/x", "--nobitfield", "-e"},
			want:   map[string]string{"tmp_dir": "/x", "nobitfield": "true", "e": "true"},
		},
		{
			name:   "grouped short flags",
			tokens: []string{"screen", "-dmS", "plot-1", "bash"},
			want:   map[string]string{"d": "true", "m": "true", "S": "plot-1"},
		},
		{
			name:   "negative number is a value",
			tokens: []string{"-n", "-1"},
			want:   map[string]string{"n": "-1"},
		},
		{
			name:   "double dash stops parsing",
			tokens: []string{"-k", "32", "--", "-t", "/tmp"},
			want:   map[string]string{"k": "32"},
		},
		{
			name:   "empty keys ignored",
			tokens: []string{"-=x", "--=y", "-b", "1"},
			want:   map[string]string{"b": "1"},
		},
		{
			name:   "long flag with value",
			tokens: []string{"--size", "32"},
			want:   map[string]string{"size": "32"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ParseFlags(tc.tokens))
		})
	}
}

func TestMatchSession(t *testing.T) {
	t.Parallel()

	m := NewScreenMatcher(MatchConfig{})

	s, ok := m.MatchSession(Process{Name: "screen", CommandLine: screenPlot1})
	require.True(t, ok)
	require.Equal(t, "plot-1", s.Name)
	require.Equal(t, "/var/log/plots/plot-1.log", s.LogPath)

	s, ok = m.MatchSession(Process{Name: "screen", CommandLine: screenPlot2})
	require.True(t, ok)
	require.Equal(t, "/var/log/plots/plot-2.log", s.LogPath)

	_, ok = m.MatchSession(Process{Name: "tmux", CommandLine: screenPlot1})
	require.False(t, ok)

	_, ok = m.MatchSession(Process{Name: "screen", CommandLine: "SCREEN -dmS idle bash"})
	require.False(t, ok)

	_, ok = m.MatchSession(Process{Name: "screen", CommandLine: "SCREEN -dm bash -c chia plots create -t /x"})
	require.False(t, ok, "session without a name")
}

func TestMatchSessionSegmentFallback(t *testing.T) {
	t.Parallel()

	m := NewScreenMatcher(MatchConfig{})
	s, ok := m.MatchSession(Process{
		Name:        "screen",
		CommandLine: `SCREEN -dmS short bash -c chia plots create -t /mnt/a | tee /logs/short.log`,
	})
	require.True(t, ok)
	require.Equal(t, "short", s.Name)
	require.Equal(t, "/logs/short.log", s.LogPath)
	require.Equal(t, "/mnt/a", s.Args["t"])
}

func TestMatchSessionUnbalancedQuotes(t *testing.T) {
	t.Parallel()

	m := NewScreenMatcher(MatchConfig{})
	s, ok := m.MatchSession(Process{
		Name:        "screen",
		CommandLine: `SCREEN -dmS q bash -c "cd x && a && b && chia plots create -t /mnt/q | tee /logs/q.log`,
	})
	require.True(t, ok)
	require.Equal(t, "/mnt/q", s.Args["t"])
	require.Equal(t, "/logs/q.log", s.LogPath)
}

func TestMatchWorker(t *testing.T) {
	t.Parallel()

	m := NewScreenMatcher(MatchConfig{})
	s := Session{Name: "plot-1", Args: map[string]string{"t": "/mnt/tmp1"}}

	require.True(t, m.MatchWorker(Process{Name: "python3", CommandLine: "python3 chia plots create -t /mnt/tmp1"}, s))
	require.False(t, m.MatchWorker(Process{Name: "bash", CommandLine: "bash -t /mnt/tmp1"}, s))
	require.False(t, m.MatchWorker(Process{Name: "python3", CommandLine: "python3 other"}, s))
	require.False(t, m.MatchWorker(Process{Name: "python3", CommandLine: "python3 x"}, Session{Args: map[string]string{}}))
}

func TestNewScreenMatcherCustom(t *testing.T) {
	t.Parallel()

	m := NewScreenMatcher(MatchConfig{SessionName: "tmux", WorkerName: "chia"})
	require.Equal(t, "tmux", m.cfg.SessionName)
	require.Equal(t, "chia", m.cfg.WorkerName)
	require.Equal(t, "chia plots create", m.cfg.Invocation)
	require.Equal(t, 3, m.cfg.CommandSegment)
}
