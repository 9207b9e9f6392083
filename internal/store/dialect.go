package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"
)

// Driver names accepted by Open.
const (
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// dialect captures the differences between the supported SQL engines.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name      string // also the migrations/ subdirectory
	sqlDriver string
	// numbered rewrites ? to $1, $2, ...
	numbered bool
	unique   func(err error) bool
}

var dialects = map[string]*dialect{
	DriverLibSQL: {
		name:      DriverLibSQL,
		sqlDriver: "libsql",
		unique: func(err error) bool {
			return strings.Contains(err.Error(), "UNIQUE constraint failed")
		},
	},
	DriverPostgres: {
		name:      DriverPostgres,
		sqlDriver: "pgx",
		numbered:  true,
		unique: func(err error) bool {
			var pgErr *pgconn.PgError
			return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
		},
	},
}

func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *dialect) isUniqueViolation(err error) bool {
	return err != nil && d.unique(err)
}
