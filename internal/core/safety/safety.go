// Package safety は生成されたクエリの読み取り専用検証と行数上限の注入を提供する。
// 検証を通らなかったクエリが実行側に渡ることはない。
package safety

import (
	"github.com/jinford/db-rag/internal/core/connection"
)

// Verdict はクエリ検証の結果を表す
type Verdict struct {
	Safe      bool   // 実行してよい場合にtrue
	Reason    string // 拒否理由（Safe=falseのとき必須）
	Statement string // 実行すべき文（行数上限の注入など書き換え後の形）
	Capped    bool   // 行数上限を注入・引き下げた場合にtrue
}

// Validator はクエリ文字列を検証するインターフェース
// 実装は方言ごとに用意し、検証と同時に行数上限の書き換えを行う
type Validator interface {
	Validate(statement string) Verdict
}

// ForDialect は方言に応じたValidatorを返す
func ForDialect(dialect connection.Dialect, maxRows int) Validator {
	switch dialect.Family() {
	case connection.FamilyDocument:
		return NewDocumentValidator(maxRows)
	default:
		return NewSQLValidator(maxRows)
	}
}

func unsafe(reason string) Verdict {
	return Verdict{Safe: false, Reason: reason}
}
