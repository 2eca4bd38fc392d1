package ignore

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-folder file holding extra patterns
const FileName = ".aldersyncignore"

var defaultLines = []string{
	FileName,
	// sync internals
	".aldersync/",
	"*.aldersync-tmp",
	// editors
	".vscode",
	".idea",
	"*.swp",
	// general
	".git",
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// List matches paths against gitignore-style patterns
type List struct {
	lines  []string
	ignore *gitignore.GitIgnore
}

// New compiles the default patterns followed by extra
func New(extra ...string) *List {
	lines := make([]string, 0, len(defaultLines)+len(extra))
	lines = append(lines, defaultLines...)
	for _, l := range extra {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return &List{
		lines:  lines,
		ignore: gitignore.CompileIgnoreLines(lines...),
	}
}

// Empty returns a list that matches nothing
func Empty() *List {
	return &List{ignore: gitignore.CompileIgnoreLines()}
}

// Load reads patterns from r, one per line, on top of the defaults
func Load(r io.Reader, extra ...string) (*List, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore patterns: %w", err)
	}
	return New(append(extra, lines...)...), nil
}

// LoadFile is Load for a file on disk. A missing file yields the defaults plus extra.
func LoadFile(path string, extra ...string) (*List, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(extra...), nil
	} else if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	list, err := Load(file, extra...)
	if err != nil {
		return nil, err
	}
	slog.Debug("ignore file loaded", "path", path, "rules", len(list.lines)-len(defaultLines))
	return list, nil
}

func (l *List) ShouldIgnore(path string) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(path)
}

// Patterns returns the compiled pattern lines
func (l *List) Patterns() []string {
	return append([]string(nil), l.lines...)
}

// FilterClient drops ignored entries from a client manifest
func (l *List) FilterClient(m synctypes.ClientManifest) synctypes.ClientManifest {
	out := m
	out.Entries = make([]synctypes.ClientEntry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if !l.ShouldIgnore(e.Path) {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// FilterServer drops ignored files and tombstones from a server manifest
func (l *List) FilterServer(m synctypes.ServerManifest) synctypes.ServerManifest {
	out := synctypes.NewServerManifest()
	for p, e := range m.Files {
		if !l.ShouldIgnore(p) {
			out.Files[p] = e
		}
	}
	for p, ts := range m.Tombstones {
		if !l.ShouldIgnore(p) {
			out.Tombstones[p] = ts
		}
	}
	return out
}
