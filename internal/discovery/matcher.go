package discovery

import (
	"strings"

	"github.com/google/shlex"
)

// Session is a plot invocation recovered from a wrapper process command line.
type Session struct {
	Name    string
	LogPath string
	Args    map[string]string
}

// Matcher isolates the command-line heuristics used to recognise plot
// sessions and their worker processes.
type Matcher interface {
	MatchSession(p Process) (Session, bool)
	MatchWorker(p Process, s Session) bool
}

// MatchConfig tunes ScreenMatcher.
type MatchConfig struct {
	// SessionName is the wrapper process name, e.g. "screen".
	SessionName string
	// Invocation must appear in the wrapper command line.
	Invocation string
	// CommandSegment is the index of the plot command among the "&&" separated
	// segments of the wrapper command line.
	CommandSegment int
	// NameFlag is the wrapper flag carrying the job name.
	NameFlag string
	// WorkerName must appear in the worker process name.
	WorkerName string
	// MatchArg names the launch argument whose value identifies the worker.
	MatchArg string
}

// DefaultMatchConfig matches `screen -dmS <name> bash -c "... && chia plots create ... | tee <log>"`.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		SessionName:    "screen",
		Invocation:     "chia plots create",
		CommandSegment: 3,
		NameFlag:       "S",
		WorkerName:     "python",
		MatchArg:       "t",
	}
}

// ScreenMatcher recognises plots launched inside detached screen sessions with
// their output piped through tee.
type ScreenMatcher struct {
	cfg MatchConfig
}

// NewScreenMatcher builds a ScreenMatcher, filling unset fields from the defaults.
func NewScreenMatcher(cfg MatchConfig) *ScreenMatcher {
	def := DefaultMatchConfig()
	if cfg.SessionName == "" {
		cfg.SessionName = def.SessionName
	}
	if cfg.Invocation == "" {
		cfg.Invocation = def.Invocation
	}
	if cfg.CommandSegment <= 0 {
		cfg.CommandSegment = def.CommandSegment
	}
	if cfg.NameFlag == "" {
		cfg.NameFlag = def.NameFlag
	}
	if cfg.WorkerName == "" {
		cfg.WorkerName = def.WorkerName
	}
	if cfg.MatchArg == "" {
		cfg.MatchArg = def.MatchArg
	}
	return &ScreenMatcher{cfg: cfg}
}

// MatchSession implements Matcher.
func (m *ScreenMatcher) MatchSession(p Process) (Session, bool) {
	if p.Name != m.cfg.SessionName || !strings.Contains(p.CommandLine, m.cfg.Invocation) {
		return Session{}, false
	}
	segments := strings.Split(p.CommandLine, "&&")
	name := ParseFlags(tokenize(segments[0]))[m.cfg.NameFlag]
	if name == "" || name == "true" {
		return Session{}, false
	}

	command := m.commandSegment(segments)
	plotCmd, pipeTail, _ := strings.Cut(command, "|")
	return Session{
		Name:    name,
		LogPath: teeTarget(pipeTail),
		Args:    ParseFlags(tokenize(plotCmd)),
	}, true
}

func (m *ScreenMatcher) commandSegment(segments []string) string {
	if m.cfg.CommandSegment < len(segments) && strings.Contains(segments[m.cfg.CommandSegment], m.cfg.Invocation) {
		return segments[m.cfg.CommandSegment]
	}
	for _, seg := range segments {
		if strings.Contains(seg, m.cfg.Invocation) {
			return seg
		}
	}
	return ""
}

// MatchWorker implements Matcher.
func (m *ScreenMatcher) MatchWorker(p Process, s Session) bool {
	if !strings.Contains(p.Name, m.cfg.WorkerName) {
		return false
	}
	key := s.Args[m.cfg.MatchArg]
	if key == "" || key == "true" {
		return false
	}
	return strings.Contains(p.CommandLine, key)
}

// teeTarget returns the file written by the first tee in a pipeline tail.
func teeTarget(pipeTail string) string {
	_, after, ok := strings.Cut(pipeTail, "tee ")
	if !ok {
		return ""
	}
	for _, tok := range tokenize(after) {
		if tok == "|" {
			break
		}
		if !strings.HasPrefix(tok, "-") {
			return tok
		}
	}
	return ""
}

func tokenize(s string) []string {
	toks, err := shlex.Split(s)
	if err != nil {
		// unbalanced quotes survive in truncated command lines
		return strings.Fields(s)
	}
	return toks
}

// ParseFlags collects the flags of an argv-style token list. Positional tokens
// (including the program name) are dropped, boolean flags map to "true", and
// grouped short flags such as -dmS set every letter with the value bound to
// the last one.
func ParseFlags(tokens []string) map[string]string {
	args := make(map[string]string)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case tok == "--":
			return args
		case strings.HasPrefix(tok, "--") && len(tok) > 2:
			key := tok[2:]
			if k, v, ok := strings.Cut(key, "="); ok {
				if k != "" {
					args[k] = v
				}
				continue
			}
			if i+1 < len(tokens) && !isFlag(tokens[i+1]) {
				args[key] = tokens[i+1]
				i++
				continue
			}
			args[key] = "true"
		case isFlag(tok):
			letters := tok[1:]
			if k, v, ok := strings.Cut(letters, "="); ok {
				if k == "" {
					continue
				}
				for _, r := range k[:len(k)-1] {
					args[string(r)] = "true"
				}
				args[k[len(k)-1:]] = v
				continue
			}
			for _, r := range letters[:len(letters)-1] {
				args[string(r)] = "true"
			}
			last := letters[len(letters)-1:]
			if i+1 < len(tokens) && !isFlag(tokens[i+1]) {
				args[last] = tokens[i+1]
				i++
				continue
			}
			args[last] = "true"
		}
	}
	return args
}

func isFlag(tok string) bool {
	if len(tok) < 2 || tok[0] != '-' {
		return false
	}
	// negative numbers are values, not flags
	c := tok[1]
	return c < '0' || c > '9'
}
