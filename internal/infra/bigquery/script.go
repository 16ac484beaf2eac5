package bigquery

import (
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
)

// script collects DML statements and their parameters so a unit of work can
// be submitted as one multi-statement transaction.
type script struct {
	stmts  []string
	params []bigquery.QueryParameter
}

// bind registers v as a query parameter and returns its placeholder.
// Names are positional so statements never collide on parameter names.
func (s *script) bind(v interface{}) string {
	name := fmt.Sprintf("p%d", len(s.params))
	s.params = append(s.params, bigquery.QueryParameter{Name: name, Value: v})
	return "@" + name
}

func (s *script) add(stmt string) {
	s.stmts = append(s.stmts, strings.TrimSpace(stmt))
}

func (s *script) empty() bool {
	return len(s.stmts) == 0
}

// SQL renders the statements wrapped in BEGIN/COMMIT TRANSACTION.
func (s *script) SQL() string {
	if s.empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("BEGIN TRANSACTION;\n")
	for _, stmt := range s.stmts {
		b.WriteString(stmt)
		b.WriteString(";\n")
	}
	b.WriteString("COMMIT TRANSACTION;")
	return b.String()
}
