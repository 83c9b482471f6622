package queryengine

import "strings"

// QueryType classifies a statement by its leading keyword, used to
// decide whether rows_affected or a row set is the meaningful result.
type QueryType string

const (
	QuerySelect QueryType = "Select"
	QueryInsert QueryType = "Insert"
	QueryUpdate QueryType = "Update"
	QueryDelete QueryType = "Delete"
	QueryOther  QueryType = "Other"
)

// detectQueryType inspects the leading keyword of the trimmed SQL text.
// SELECT and WITH (a CTE may prefix a SELECT or a DML statement, but the
// engine only needs a coarse hint) are classified as Select; INSERT,
// UPDATE, DELETE are classified accordingly; everything else is Other.
func detectQueryType(sql string) QueryType {
	trimmed := strings.TrimSpace(sql)
	word := leadingKeyword(trimmed)
	switch strings.ToUpper(word) {
	case "SELECT", "WITH":
		return QuerySelect
	case "INSERT":
		return QueryInsert
	case "UPDATE":
		return QueryUpdate
	case "DELETE":
		return QueryDelete
	default:
		return QueryOther
	}
}

func leadingKeyword(sql string) string {
	end := strings.IndexFunc(sql, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end == -1 {
		return sql
	}
	return sql[:end]
}
