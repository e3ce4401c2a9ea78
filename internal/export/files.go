package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// ErrNoExport is returned by Latest when no export from the given day exists.
var ErrNoExport = errors.New("no export file found")

// WriteFile writes an artifact into dir and returns its path.
func WriteFile(dir string, a Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Payload, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// Latest returns the newest export of format f written on day's date.
// File names sort chronologically, so the greatest matching name wins.
func Latest(dir string, f Format, day time.Time) (string, error) {
	pattern := regexp.MustCompile(fmt.Sprintf(`^%sOrder_%s_\d{2}_\d{2}\.csv$`,
		regexp.QuoteMeta(string(f)), day.Format("2006_01_02")))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read export dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && pattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w for %s on %s", ErrNoExport, f, day.Format("2006-01-02"))
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
