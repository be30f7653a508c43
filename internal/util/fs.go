package util

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// EnsureDir creates the directory path if it does not exist.
func EnsureDir(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	return os.MkdirAll(path, 0o755)
}

// SanitizeName turns a query name into a safe single path element:
// spaces and forbidden characters become underscores, runs of underscores
// collapse, and the result is capped at 200 runes.
func SanitizeName(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	forbidden := `[]/\:*?"<>|#%{}$!@+^~` + "`" + `=&;`
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbidden, r) {
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "._-")

	const maxRunes = 200
	if utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	if s == "" {
		return "unnamed"
	}
	return s
}

// DirSize sums the sizes of regular files under root. A missing root is 0.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
