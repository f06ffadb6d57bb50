package isolation

import (
	"regexp"
	"strings"
)

// Statement is the shape of one SQL statement as far as the rules need it.
type Statement struct {
	Action string // select, insert, update, delete, other
	Model  string
	Joins  []string
	// TenantFilter is set when the WHERE clause constrains a tenant id column.
	TenantFilter bool
}

const ident = `((?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*)(?:\s*\.\s*(?:"[^"]+"|[A-Za-z_][A-Za-z0-9_$]*))?)`

var (
	literalRe      = regexp.MustCompile(`'(?:[^']|'')*'`)
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	spaceRe        = regexp.MustCompile(`\s+`)

	insertRe = regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+` + ident)
	updateRe = regexp.MustCompile(`(?i)\bUPDATE\s+(?:ONLY\s+)?` + ident)
	deleteRe = regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+(?:ONLY\s+)?` + ident)
	fromRe   = regexp.MustCompile(`(?i)\bFROM\s+(?:ONLY\s+)?` + ident)
	joinRe   = regexp.MustCompile(`(?i)\bJOIN\s+(?:LATERAL\s+)?` + ident)
	whereRe  = regexp.MustCompile(`(?i)\bWHERE\b`)
	verbRe   = regexp.MustCompile(`(?i)^\s*(WITH|SELECT|INSERT|UPDATE|DELETE)\b`)

	tenantFilterRe = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9_])(?:[A-Za-z_][A-Za-z0-9_]*\.)?"?tenant_?id"?\s*(?:=|<>|!=|\bIN\b|\bIS\b|=\s*ANY\b)`)
)

// Parse extracts the statement shape. It is a heuristic over the SQL text,
// not a parser: unrecognised statements come back with Action "other".
func Parse(sql string) Statement {
	sql = blockCommentRe.ReplaceAllString(sql, " ")
	sql = lineCommentRe.ReplaceAllString(sql, " ")
	sql = literalRe.ReplaceAllString(sql, "''")
	sql = strings.TrimSpace(spaceRe.ReplaceAllString(sql, " "))

	st := Statement{Action: "other"}
	m := verbRe.FindStringSubmatch(sql)
	if m == nil {
		return st
	}
	body := sql
	verb := strings.ToUpper(m[1])
	if verb == "WITH" {
		// the main statement follows the last CTE
		verb, body = mainStatement(sql)
	}

	var target *regexp.Regexp
	switch verb {
	case "SELECT":
		st.Action, target = "select", fromRe
	case "INSERT":
		st.Action, target = "insert", insertRe
	case "UPDATE":
		st.Action, target = "update", updateRe
	case "DELETE":
		st.Action, target = "delete", deleteRe
	default:
		return st
	}
	if tm := target.FindStringSubmatch(body); tm != nil {
		st.Model = relationName(tm[1])
	}
	for _, jm := range joinRe.FindAllStringSubmatch(body, -1) {
		st.Joins = append(st.Joins, relationName(jm[1]))
	}
	if loc := whereRe.FindStringIndex(body); loc != nil {
		st.TenantFilter = tenantFilterRe.MatchString(body[loc[1]:])
	}
	return st
}

// mainStatement returns the verb and text of the statement after a WITH
// clause's common table expressions.
func mainStatement(sql string) (string, string) {
	depth := 0
	upper := strings.ToUpper(sql)
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth != 0 {
				continue
			}
			for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
				end := i + len(verb)
				if strings.HasPrefix(upper[i:], verb) && (i == 0 || !isIdentByte(sql[i-1])) &&
					(end == len(sql) || !isIdentByte(sql[end])) {
					return verb, sql[i:]
				}
			}
		}
	}
	return "", sql
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b == '"' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// relationName drops the schema qualifier and identifier quotes.
func relationName(raw string) string {
	if i := strings.LastIndex(raw, "."); i >= 0 {
		raw = raw[i+1:]
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"`))
}
