// Package migrations holds the embedded schema for both backends and the
// runners that apply it. Applied versions are tracked in schema_migrations,
// so a runner only executes files it has not seen.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

var errSemicolonInString = errors.New("semicolon inside string literal")

// Migration is one numbered SQL file.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Postgres returns the embedded Postgres migrations ordered by version.
func Postgres() ([]Migration, error) { return load(postgresFS, "postgres") }

// ClickHouse returns the embedded ClickHouse migrations ordered by version.
func ClickHouse() ([]Migration, error) { return load(clickhouseFS, "clickhouse") }

// load reads NNN_name.sql files from dir. Versions must be unique.
func load(fsys fs.FS, dir string) ([]Migration, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list %s migrations: %w", dir, err)
	}

	out := make([]Migration, 0, len(files))
	seen := make(map[int]string, len(files))
	for _, file := range files {
		base := path.Base(file)
		version, name, err := parseFileName(base)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, base)
		}
		seen[version] = base

		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", base, err)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", base, err)
		}
		if len(stmts) == 0 {
			continue
		}
		out = append(out, Migration{Version: version, Name: name, Statements: stmts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseFileName(base string) (int, string, error) {
	stem := strings.TrimSuffix(base, ".sql")
	num, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want NNN_name.sql", base)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: bad version %q", base, num)
	}
	return version, name, nil
}

// splitStatements breaks a file into statements on ';'. Full-line "--"
// comments are dropped. A ';' inside a quoted literal is rejected rather
// than split, since the drivers execute one statement per call.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts   []string
		cur     strings.Builder
		inQuote bool
	)
	for _, line := range strings.Split(sql, "\n") {
		if !inQuote && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			ch := line[i]
			switch {
			case ch == '\'' && inQuote && i+1 < len(line) && line[i+1] == '\'':
				cur.WriteString("''")
				i++
				continue
			case ch == '\'':
				inQuote = !inQuote
			case ch == ';' && inQuote:
				return nil, errSemicolonInString
			case ch == ';':
				if s := strings.TrimSpace(cur.String()); s != "" {
					stmts = append(stmts, s)
				}
				cur.Reset()
				continue
			}
			cur.WriteByte(ch)
		}
		cur.WriteByte('\n')
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// pending returns the migrations whose version is not in applied.
func pending(all []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}
