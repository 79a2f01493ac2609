package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jinford/db-rag/internal/core/connection"
)

// コードブロック・インラインコードの抽出パターン
// 言語付きブロック → 汎用ブロック → インラインコードの順に優先する
var fencePatterns = []*regexp.Regexp{
	regexp.MustCompile("(?is)```sql\\s*\\n(.*?)\\n\\s*```"),
	regexp.MustCompile("(?is)```json\\s*\\n(.*?)\\n\\s*```"),
	regexp.MustCompile("(?is)```\\s*\\n(.*?)\\n\\s*```"),
	regexp.MustCompile("`([^`\\n]+)`"),
}

var (
	sqlLineCommentRe  = regexp.MustCompile(`(?m)--.*$`)
	sqlBlockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	sqlFromRe         = regexp.MustCompile(`(?i)\bfrom\b`)

	// FROMを伴わないSELECTはリテラル選択（SELECT 1 など）だけを許す
	selectLiteralRe = regexp.MustCompile(`(?i)^select\s+(\d+(\.\d+)?|'[^']*')\s*;?$`)
)

// クエリ行の先頭として認識するキーワード
var sqlPrefixes = []string{"select", "with", "explain", "describe", "desc", "show"}

// ExtractQuery は生成テキストからクエリ候補を1つ取り出す
//
// コードブロック、インラインコード、行頭キーワードの順で走査し、最初に
// 見つかった候補を返す。候補が見つからない場合は false を返し、呼び出し側は
// 説明文のみの回答として扱う
func ExtractQuery(output string, family connection.Family) (string, bool) {
	switch family {
	case connection.FamilyDocument:
		return extractDocument(output)
	default:
		return extractSQL(output)
	}
}

func extractSQL(output string) (string, bool) {
	candidate, fenced := extractFenced(output)
	candidate = sqlBlockCommentRe.ReplaceAllString(candidate, " ")
	candidate = sqlLineCommentRe.ReplaceAllString(candidate, "")

	// コードブロックは中身をそのまま候補とし、検証は後段に任せる。
	// 地の文ではクエリらしき行が見つかった場合だけ候補とする
	if clipped := clipToStatement(candidate); clipped != "" {
		candidate = clipped
	} else if !fenced {
		return "", false
	}

	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(candidate), "select") &&
		!sqlFromRe.MatchString(candidate) &&
		!selectLiteralRe.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

func extractDocument(output string) (string, bool) {
	fencedCandidate, _ := extractFenced(output)
	candidate := strings.TrimSpace(fencedCandidate)
	if candidate == "" {
		return "", false
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		// 前後の説明文を切り落として最初のJSONオブジェクトを狙う
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start < 0 || end <= start {
			return "", false
		}
		candidate = candidate[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			return "", false
		}
	}

	if _, ok := doc["collection"]; !ok {
		return "", false
	}
	return candidate, true
}

// extractFenced はコードブロックの中身を取り出す
// どのパターンにも一致しない場合は原文をそのまま返し、行単位の走査に委ねる
func extractFenced(output string) (string, bool) {
	for _, pattern := range fencePatterns {
		if m := pattern.FindStringSubmatch(output); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return output, false
}

// clipToStatement はクエリらしき行から末尾までを切り出す
// 先頭の説明文は捨て、クエリ行が見つからなければ空文字列を返す
func clipToStatement(text string) string {
	lines := strings.Split(text, "\n")

	start := -1
	for i, line := range lines {
		if hasSQLPrefix(strings.TrimSpace(line)) {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := len(lines)
	for i := len(lines) - 1; i >= start; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			end = i + 1
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

func hasSQLPrefix(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range sqlPrefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		// キーワードの直後が識別子の続きなら別の単語（description等）とみなす
		rest := lower[len(prefix):]
		if rest == "" || !isWordByte(rest[0]) {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
