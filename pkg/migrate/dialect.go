package migrate

import (
	"bytes"
	"io/fs"
	"path"
	"regexp"
)

// The embedded schema is written for Postgres. mattn/go-sqlite3 only decodes
// columns declared DATE, DATETIME or TIMESTAMP into time.Time, so SQLite gets
// those spellings instead.
var sqliteTypes = []struct {
	pattern *regexp.Regexp
	repl    []byte
}{
	{regexp.MustCompile(`(?i)\bTIMESTAMPTZ\b`), []byte("TIMESTAMP")},
	{regexp.MustCompile(`(?i)\bJSONB\b`), []byte("TEXT")},
}

func rewriteForSQLite(sql []byte) []byte {
	for _, t := range sqliteTypes {
		sql = t.pattern.ReplaceAll(sql, t.repl)
	}
	return sql
}

// sqliteSource serves .sql files from the wrapped FS with column types
// rewritten for SQLite. Everything else passes through.
type sqliteSource struct {
	fs.FS
}

func (s sqliteSource) Open(name string) (fs.File, error) {
	f, err := s.FS.Open(name)
	if err != nil || path.Ext(name) != ".sql" {
		return f, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	body := rewriteForSQLite(buf.Bytes())
	return &memFile{Reader: bytes.NewReader(body), info: sizedInfo{FileInfo: info, size: int64(len(body))}}, nil
}

func (s sqliteSource) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(s.FS, name)
}

type memFile struct {
	*bytes.Reader
	info fs.FileInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

type sizedInfo struct {
	fs.FileInfo
	size int64
}

func (i sizedInfo) Size() int64 { return i.size }
