package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect interface {
	// Name returns the dialect name ("postgres" or "sqlite").
	Name() string
	// DriverName returns the database/sql driver to open.
	DriverName() string
	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string
	// LikeOperator returns the case-insensitive LIKE operator.
	LikeOperator() string
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "cockroach", "cockroachdb":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string         { return "postgres" }
func (postgresDialect) DriverName() string   { return "postgres" }
func (postgresDialect) LikeOperator() string { return "ILIKE" }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	idx := 1
	inQuote := false
	for _, ch := range query {
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteRune(ch)
		case ch == '?' && !inQuote:
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(idx))
			idx++
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite" }
func (sqliteDialect) DriverName() string         { return "sqlite" }
func (sqliteDialect) LikeOperator() string       { return "LIKE" }
func (sqliteDialect) Rebind(query string) string { return query }
