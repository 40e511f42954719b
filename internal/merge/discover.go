package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// companionSuffixes mark SQLite side files that are never sources.
var companionSuffixes = []string{"-wal", "-shm", "-journal"}

// DiscoverSources lists the regular files in dir whose name contains
// pattern, sorted by name. SQLite side files and temporary merge targets are
// excluded.
func DiscoverSources(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list sources in %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.Contains(name, pattern) {
			continue
		}
		if strings.HasPrefix(name, tempPrefix) || hasCompanionSuffix(name) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func hasCompanionSuffix(name string) bool {
	for _, suffix := range companionSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
