package migrate

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	fileNamePattern = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	slugCleaner     = regexp.MustCompile(`[^a-z0-9]+`)
)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- undo %[1]s
-- +goose StatementEnd
`

// Check verifies every .sql file in fsys is named <version>_<slug>.sql, that
// versions are unique, and that each file carries goose Up and Down sections.
func Check(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return err
	}
	versions := make(map[string]string, len(files))
	for _, name := range files {
		match := fileNamePattern.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("%s: want YYYYMMDDHHMMSS_slug.sql", name)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("%s: version %s already used by %s", name, match[1], other)
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !bytes.Contains(body, []byte(marker)) {
				return fmt.Errorf("%s: missing %q", name, marker)
			}
		}
	}
	return nil
}

// NewFile writes an empty goose migration into dir and returns its path. The
// version is the UTC timestamp of now.
func NewFile(dir, title string, now time.Time) (string, error) {
	slug := strings.Trim(slugCleaner.ReplaceAllString(strings.ToLower(title), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration title %q has no usable characters", title)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, now.UTC().Format("20060102150405")+"_"+slug+".sql")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, migrationTemplate, slug); err != nil {
		return "", err
	}
	return path, nil
}
