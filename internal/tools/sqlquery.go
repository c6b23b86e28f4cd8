package tools

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/logger"
)

const defaultMaxRows = 1000

// Keywords that turn a query into a write or a schema change. The database
// role should be read-only anyway; this check keeps obvious mutations from
// ever reaching the driver.
var forbiddenKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|EXEC|EXECUTE|MERGE|CALL)\b`)

var forbiddenTokens = []string{"--", "/*", "*/", ";"}

// SQLQueryTool executes read-only SQL against the analytics database.
type SQLQueryTool struct {
	db      *sql.DB
	log     *logger.Logger
	maxRows int
}

// NewSQLQueryTool creates the SQL adapter.
func NewSQLQueryTool(db *sql.DB, log *logger.Logger) *SQLQueryTool {
	return &SQLQueryTool{db: db, log: log, maxRows: defaultMaxRows}
}

// Spec describes the adapter for the registry and the decider.
func (t *SQLQueryTool) Spec() askdb.ToolSpec {
	return askdb.ToolSpec{
		Name: askdb.ToolNameExecuteSQL,
		Description: "Execute a read-only SQL query against the e-commerce database " +
			"(tables: products, users, transactions). Only SELECT statements are allowed. " +
			"Use $1, $2, ... placeholders with the parameters argument for values derived from user input.",
		Arguments: []askdb.ArgumentSpec{
			{
				Name:        "sql_query",
				Type:        askdb.ArgTypeString,
				Description: "The SELECT statement to run.",
				Required:    true,
			},
			{
				Name:        "parameters",
				Type:        askdb.ArgTypeArray,
				Description: "Positional values bound to $1, $2, ... placeholders.",
			},
		},
	}
}

// Invoke validates the statement as read-only and runs it, returning the
// rows as a table payload.
func (t *SQLQueryTool) Invoke(ctx context.Context, args map[string]interface{}) (askdb.ResultPayload, error) {
	query, _ := args["sql_query"].(string)
	if err := validateReadOnly(query); err != nil {
		return askdb.ResultPayload{}, err
	}

	var params []interface{}
	if raw, ok := args["parameters"].([]interface{}); ok {
		params = raw
	}

	rows, err := t.db.QueryContext(ctx, query, params...)
	if err != nil {
		return askdb.ResultPayload{}, askdb.NewQueryExecutionError("query failed", err)
	}
	defer rows.Close()

	table, err := scanTable(rows, t.maxRows)
	if err != nil {
		return askdb.ResultPayload{}, askdb.NewQueryExecutionError("failed to read result rows", err)
	}

	if t.log != nil {
		t.log.Debug("", "sql query executed", map[string]interface{}{
			"rows":    len(table.Rows),
			"columns": table.Columns,
		})
	}

	return askdb.ResultPayload{Table: table}, nil
}

// validateReadOnly rejects anything that is not a single SELECT (or WITH)
// statement.
func validateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return askdb.NewQueryExecutionError("sql_query must not be empty", nil)
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return askdb.NewQueryExecutionError("only SELECT statements are allowed", nil)
	}
	if m := forbiddenKeywords.FindString(trimmed); m != "" {
		return askdb.NewQueryExecutionError("forbidden keyword in query: "+strings.ToUpper(m), nil)
	}
	for _, token := range forbiddenTokens {
		if strings.Contains(trimmed, token) {
			return askdb.NewQueryExecutionError("forbidden token in query: "+token, nil)
		}
	}
	return nil
}

// scanTable reads up to maxRows rows into a column-ordered table. Byte
// slices become strings so JSON marshalling stays readable.
func scanTable(rows *sql.Rows, maxRows int) (*askdb.TableResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &askdb.TableResult{Columns: columns, Rows: []map[string]interface{}{}}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if len(table.Rows) >= maxRows {
			break
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return table, nil
}
