package safety

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// 先頭キーワードの許可リスト。解析不能な文はこのリストで判定する
var allowedSQLKeywords = map[string]struct{}{
	"SELECT":   {},
	"SHOW":     {},
	"DESCRIBE": {},
	"DESC":     {},
	"EXPLAIN":  {},
	"WITH":     {},
}

// 禁止キーワード。文中のどこに現れても拒否する（単語境界で照合）
var deniedSQLKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "GRANT", "REVOKE", "EXEC", "EXECUTE",
	"MERGE", "UPSERT", "REPLACE",
}

var (
	deniedKeywordRe = regexp.MustCompile(`(?i)\b(` + strings.Join(deniedSQLKeywords, "|") + `)\b`)

	// SQLインジェクションの典型パターン
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`--`),
		regexp.MustCompile(`/\*`),
		regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
		regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+`),
		regexp.MustCompile(`(?i)\b(or|and)\s+'[^']*'\s*=\s*'[^']*'`),
	}

	limitClauseRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
)

// SQLValidator はSQL系方言のクエリを検証する
// 構文解析による文種別の判定を第一層、キーワード照合を第二層とする二段構え。
// 解析が通らない方言固有の構文はキーワード層のみで判定する
type SQLValidator struct {
	maxRows int
}

// NewSQLValidator は新しいSQLValidatorを作成する
func NewSQLValidator(maxRows int) *SQLValidator {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &SQLValidator{maxRows: maxRows}
}

var _ Validator = (*SQLValidator)(nil)

// Validate は文を検証し、必要ならLIMITを注入した実行形を返す
func (v *SQLValidator) Validate(statement string) Verdict {
	stmt := strings.TrimSpace(statement)
	stmt = strings.TrimRight(stmt, "; \t\n\r")

	if stmt == "" {
		return unsafe("empty statement")
	}

	// 禁止キーワードは構文解析の成否に関わらず常に照合する
	if m := deniedKeywordRe.FindString(stmt); m != "" {
		return unsafe(fmt.Sprintf("statement contains forbidden keyword %s", strings.ToUpper(m)))
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(stmt) {
			return unsafe(fmt.Sprintf("statement matches dangerous pattern %s", re.String()))
		}
	}

	// 末尾以外のセミコロンは複文とみなす
	if strings.Contains(stmt, ";") {
		return unsafe("multiple statements are not allowed")
	}

	if verdict, parsed := v.validateAST(stmt); parsed {
		if !verdict.Safe {
			return verdict
		}
	} else if verdict := v.validateKeywords(stmt); !verdict.Safe {
		return verdict
	}

	return v.applyRowCap(stmt)
}

// validateAST は構文解析によって文種別を判定する
// 戻り値の第二値は解析に成功したかどうかを表す
func (v *SQLValidator) validateAST(stmt string) (Verdict, bool) {
	p := parser.New()
	nodes, _, err := p.ParseSQL(stmt)
	if err != nil {
		// PostgreSQL固有の構文などは解析できないことがある。その場合は
		// キーワード層に委ねる
		return Verdict{}, false
	}
	if len(nodes) != 1 {
		return unsafe("multiple statements are not allowed"), true
	}

	switch nodes[0].(type) {
	case *ast.SelectStmt, *ast.SetOprStmt, *ast.ShowStmt, *ast.ExplainStmt:
		return Verdict{Safe: true}, true
	default:
		return unsafe(fmt.Sprintf("statement type %T is not allowed", nodes[0])), true
	}
}

// validateKeywords は先頭キーワードの許可リストで判定する（解析不能時のフォールバック）
func (v *SQLValidator) validateKeywords(stmt string) Verdict {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return unsafe("empty statement")
	}

	keyword := strings.ToUpper(fields[0])
	if _, ok := allowedSQLKeywords[keyword]; !ok {
		return unsafe(fmt.Sprintf("statement must start with one of SELECT, SHOW, DESCRIBE, EXPLAIN, WITH (got %s)", keyword))
	}

	// WITH句はSELECTに解決される場合のみ許可する
	if keyword == "WITH" && !strings.Contains(strings.ToUpper(stmt), "SELECT") {
		return unsafe("WITH statement must resolve to a SELECT")
	}

	return Verdict{Safe: true}
}

// applyRowCap はSELECT系の文に行数上限を適用する
// LIMITがなければ注入し、上限を超えるLIMITは上限まで引き下げる
func (v *SQLValidator) applyRowCap(stmt string) Verdict {
	keyword := strings.ToUpper(strings.Fields(stmt)[0])
	if keyword != "SELECT" && keyword != "WITH" {
		// SHOW/DESCRIBE/EXPLAINは行数が限られるため書き換えない
		return Verdict{Safe: true, Statement: stmt}
	}

	m := limitClauseRe.FindStringSubmatch(stmt)
	if m == nil {
		return Verdict{
			Safe:      true,
			Statement: fmt.Sprintf("%s LIMIT %d", stmt, v.maxRows),
			Capped:    true,
		}
	}

	limit, err := strconv.Atoi(m[1])
	if err == nil && limit > v.maxRows {
		capped := limitClauseRe.ReplaceAllString(stmt, fmt.Sprintf("LIMIT %d", v.maxRows))
		return Verdict{Safe: true, Statement: capped, Capped: true}
	}

	return Verdict{Safe: true, Statement: stmt}
}
