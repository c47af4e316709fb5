package transform

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"feathermail/stage"
)

const defaultAliasDepth = 10

// AliasResolver expands meta.to entries through a static alias map,
// recursively, with cycle detection and a depth bound.
type AliasResolver struct {
	aliases  map[string][]string
	maxDepth int
}

// NewAliasResolver builds a resolver from a static alias table. maxDepth
// <= 0 selects defaultAliasDepth.
func NewAliasResolver(aliases map[string][]string, maxDepth int) *AliasResolver {
	if maxDepth <= 0 {
		maxDepth = defaultAliasDepth
	}
	return &AliasResolver{aliases: aliases, maxDepth: maxDepth}
}

// TransformMeta expands every recipient in meta.To through the alias
// table, replacing aliased addresses with their resolved targets.
func (a *AliasResolver) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	return expandAliasesInMeta(meta, a.aliases, a.maxDepth)
}

func expandAliasesInMeta(meta stage.Meta, aliases map[string][]string, maxDepth int) (stage.Meta, error) {
	to := meta.To()
	if len(to) == 0 {
		return meta, nil
	}

	resolved := make([]string, 0, len(to))
	for _, addr := range to {
		expanded, err := resolveAlias(addr, aliases, maxDepth, map[string]bool{})
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, expanded...)
	}

	out := meta.Clone()
	out[stage.KeyTo] = resolved
	return out, nil
}

func resolveAlias(addr string, aliases map[string][]string, depthLeft int, seen map[string]bool) ([]string, error) {
	if depthLeft <= 0 {
		return nil, fmt.Errorf("transform: alias expansion exceeded max depth resolving %q", addr)
	}
	if seen[addr] {
		return nil, fmt.Errorf("transform: alias cycle detected at %q", addr)
	}

	targets, ok := aliases[addr]
	if !ok {
		return []string{addr}, nil
	}

	seen = cloneSeen(seen)
	seen[addr] = true

	var out []string
	for _, t := range targets {
		expanded, err := resolveAlias(t, aliases, depthLeft-1, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func cloneSeen(seen map[string]bool) map[string]bool {
	out := make(map[string]bool, len(seen)+1)
	for k, v := range seen {
		out[k] = v
	}
	return out
}

// FileBasedAliasResolver reads a sendmail-style /etc/aliases format file
// (comments starting with '#', leading-whitespace continuation lines) and
// caches its parsed contents for reloadInterval before re-reading.
type FileBasedAliasResolver struct {
	path           string
	reloadInterval time.Duration
	maxDepth       int

	mu       sync.Mutex
	aliases  map[string][]string
	loadedAt time.Time
}

// NewFileBasedAliasResolver creates a resolver backed by the alias file at
// path. reloadInterval <= 0 disables caching (re-read on every call).
func NewFileBasedAliasResolver(path string, reloadInterval time.Duration, maxDepth int) *FileBasedAliasResolver {
	if maxDepth <= 0 {
		maxDepth = defaultAliasDepth
	}
	return &FileBasedAliasResolver{path: path, reloadInterval: reloadInterval, maxDepth: maxDepth}
}

// TransformMeta expands every recipient through the file-backed alias
// table, reloading the file if the cache has expired.
func (f *FileBasedAliasResolver) TransformMeta(meta stage.Meta) (stage.Meta, error) {
	aliases, err := f.load()
	if err != nil {
		return nil, err
	}
	return expandAliasesInMeta(meta, aliases, f.maxDepth)
}

func (f *FileBasedAliasResolver) load() (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.aliases != nil && f.reloadInterval > 0 && time.Since(f.loadedAt) < f.reloadInterval {
		return f.aliases, nil
	}

	aliases, err := parseAliasFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Tolerate a missing alias file: treat as empty, per the loader's
			// "missing files gracefully" contract.
			f.aliases = map[string][]string{}
			f.loadedAt = time.Now()
			return f.aliases, nil
		}
		return nil, err
	}
	f.aliases = aliases
	f.loadedAt = time.Now()
	return aliases, nil
}

func parseAliasFile(path string) (map[string][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	aliases := make(map[string][]string)
	scanner := bufio.NewScanner(file)

	var curKey string
	var curTargets []string
	flush := func() {
		if curKey != "" {
			aliases[curKey] = append(aliases[curKey], curTargets...)
		}
		curKey = ""
		curTargets = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Continuation of the previous entry's target list.
			curTargets = append(curTargets, splitTargets(line)...)
			continue
		}

		flush()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		curKey = strings.TrimSpace(parts[0])
		curTargets = splitTargets(parts[1])
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return aliases, nil
}

func splitTargets(s string) []string {
	fields := strings.Split(s, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
