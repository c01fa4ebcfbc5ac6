// Package migrate owns Plug's schema: embedded SQL files per dialect and a
// runner that applies them in order with a bookkeeping table.
package migrate

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Dialect selects a migration set.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedded embed.FS

// ErrUnknownMigration is returned by Info for names that are not embedded.
var ErrUnknownMigration = errors.New("unknown migration")

// File is one migration script.
type File struct {
	Name     string
	SQL      string
	Checksum string
}

// Statements splits the script into executable statements.
func (f File) Statements() []string {
	var out []string
	for _, s := range splitStatements(f.SQL) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Files returns the embedded migrations for d in lexical order.
func Files(d Dialect) ([]File, error) {
	switch d {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("migrate: unsupported dialect %q", d)
	}
	return Load(embedded, path.Join("migrations", string(d)))
}

// Load reads every *.up.sql file directly under dir, sorted by name.
func Load(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", e.Name(), err)
		}
		files = append(files, File{
			Name:     e.Name(),
			SQL:      string(raw),
			Checksum: checksum(raw),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// splitStatements naively splits SQL by semicolon, ignoring semicolons
// inside single-quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
