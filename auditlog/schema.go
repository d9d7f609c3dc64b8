package auditlog

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const statementMarker = "-- statement"

// schemaStatements returns the DDL for dialect split into single
// statements, since neither driver is opened with multi-statement support.
func schemaStatements(dialect string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return nil, fmt.Errorf("read %s schema: %w", dialect, err)
	}
	var out []string
	for _, part := range strings.Split(string(raw), statementMarker) {
		stmt := strings.TrimSpace(part)
		if dialect == string(DialectMySQL) {
			stmt = strings.TrimSuffix(stmt, ";")
		}
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}
