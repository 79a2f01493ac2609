package safety

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ドキュメントクエリで書き込みを意図するトップレベルキー
var deniedDocumentKeys = []string{
	"insert", "update", "delete", "drop", "replace", "create", "rename",
}

// サーバ側で任意コードの実行や書き出しを引き起こす演算子
var deniedDocumentOperators = map[string]struct{}{
	"$out":         {},
	"$merge":       {},
	"$where":       {},
	"$function":    {},
	"$accumulator": {},
}

// DocumentQuery はドキュメント系方言の正規化済みクエリを表す
// filterとpipelineは排他で、pipelineがnilならfind、そうでなければaggregateとして実行される
type DocumentQuery struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
}

// ParseDocumentQuery は検証済みのクエリ文字列をDocumentQueryに復元する
func ParseDocumentQuery(statement string) (*DocumentQuery, error) {
	var q DocumentQuery
	if err := json.Unmarshal([]byte(statement), &q); err != nil {
		return nil, fmt.Errorf("failed to parse document query: %w", err)
	}
	if q.Collection == "" {
		return nil, fmt.Errorf("document query has no collection")
	}
	return &q, nil
}

// DocumentValidator はドキュメント系方言のクエリを検証する
// クエリはJSONオブジェクト {collection, filter|pipeline, limit} として表現される
type DocumentValidator struct {
	maxRows int
}

// NewDocumentValidator は新しいDocumentValidatorを作成する
func NewDocumentValidator(maxRows int) *DocumentValidator {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &DocumentValidator{maxRows: maxRows}
}

var _ Validator = (*DocumentValidator)(nil)

// Validate はクエリ文書を検証し、行数上限を適用した正規形を返す
func (v *DocumentValidator) Validate(statement string) Verdict {
	stmt := strings.TrimSpace(statement)
	if stmt == "" {
		return unsafe("empty statement")
	}

	var raw any
	if err := json.Unmarshal([]byte(stmt), &raw); err != nil {
		return unsafe("statement is not a valid JSON query document")
	}

	doc, ok := raw.(map[string]any)
	if !ok {
		return unsafe("expected a single JSON query object")
	}

	collection, ok := doc["collection"].(string)
	if !ok || collection == "" {
		return unsafe("query document must carry a collection name")
	}

	for _, key := range deniedDocumentKeys {
		if _, exists := doc[key]; exists {
			return unsafe(fmt.Sprintf("write operation %q is not allowed", key))
		}
	}

	if op := findDeniedOperator(doc); op != "" {
		return unsafe(fmt.Sprintf("operator %s is not allowed", op))
	}

	pipeline, hasPipeline := doc["pipeline"]
	filter, hasFilter := doc["filter"]

	if hasPipeline && hasFilter {
		return unsafe("filter and pipeline are mutually exclusive")
	}

	capped := false
	if hasPipeline {
		stages, ok := pipeline.([]any)
		if !ok {
			return unsafe("pipeline must be an array of stages")
		}
		doc["pipeline"], capped = v.capPipeline(stages)
	} else {
		if hasFilter {
			if _, ok := filter.(map[string]any); !ok {
				return unsafe("filter must be an object")
			}
		} else {
			doc["filter"] = map[string]any{}
		}
		doc["limit"], capped = v.capLimit(doc["limit"])
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return unsafe("failed to canonicalize query document")
	}

	return Verdict{Safe: true, Statement: string(canonical), Capped: capped}
}

// capLimit はfindクエリのlimitに上限を適用する
func (v *DocumentValidator) capLimit(value any) (int64, bool) {
	limit, ok := value.(float64)
	if !ok || limit <= 0 || limit > float64(v.maxRows) {
		return int64(v.maxRows), true
	}
	return int64(limit), false
}

// capPipeline はaggregateパイプラインに$limitステージを保証する
func (v *DocumentValidator) capPipeline(stages []any) ([]any, bool) {
	for i, stage := range stages {
		m, ok := stage.(map[string]any)
		if !ok {
			continue
		}
		if limit, exists := m["$limit"]; exists {
			if n, ok := limit.(float64); !ok || n <= 0 || n > float64(v.maxRows) {
				m["$limit"] = v.maxRows
				stages[i] = m
				return stages, true
			}
			return stages, false
		}
	}
	return append(stages, map[string]any{"$limit": v.maxRows}), true
}

// findDeniedOperator はクエリ文書全体を走査して禁止演算子を探す
func findDeniedOperator(value any) string {
	switch t := value.(type) {
	case map[string]any:
		for key, child := range t {
			if _, denied := deniedDocumentOperators[key]; denied {
				return key
			}
			if op := findDeniedOperator(child); op != "" {
				return op
			}
		}
	case []any:
		for _, child := range t {
			if op := findDeniedOperator(child); op != "" {
				return op
			}
		}
	}
	return ""
}
