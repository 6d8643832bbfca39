package postgres

import (
	"fmt"
	"os"
	"strings"

	"github.com/lib/pq"
)

type SQLError struct {
	query         string
	originalError error
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("SQL Error: %s in query %s", e.originalError.Error(), e.query)
}

func (e *SQLError) Cause() error { return e.originalError }

type SQLInsertError struct {
	SQLError
	data interface{}
}

func (e *SQLInsertError) Error() string {
	return fmt.Sprintf("SQL Error: %s in query %s (%+v)", e.originalError.Error(), e.query, e.data)
}

// connectionParams converts URLs into key/value connection parameters.
func connectionParams(conn string) (string, error) {
	if strings.HasPrefix(conn, "postgis://") {
		conn = strings.Replace(conn, "postgis", "postgres", 1)
	}
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		var err error
		conn, err = pq.ParseURL(conn)
		if err != nil {
			return "", err
		}
	}
	return disableDefaultSslOnLocalhost(conn), nil
}

// disableDefaultSslOnLocalhost adds sslmode=disable for local connections
// unless a sslmode is already set.
func disableDefaultSslOnLocalhost(params string) string {
	parts := strings.Fields(params)
	isLocalHost := false
	for _, p := range parts {
		if strings.HasPrefix(p, "sslmode=") {
			return params
		}
		if p == "host=localhost" || p == "host=127.0.0.1" || p == "host=/var/run/postgresql" {
			isLocalHost = true
		}
	}
	if !isLocalHost {
		return params
	}
	if _, ok := os.LookupEnv("PGSSLMODE"); ok {
		return params
	}
	return params + " sslmode=disable"
}
