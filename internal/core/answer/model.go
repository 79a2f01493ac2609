package answer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/safety"
)

var (
	// ErrProviderUnavailable は生成プロバイダへの到達失敗を表す
	ErrProviderUnavailable = errors.New("generation provider unavailable")

	// ErrProviderQuotaExceeded は生成プロバイダのレート・クォータ超過を表す
	ErrProviderQuotaExceeded = errors.New("generation provider quota exceeded")
)

// GenerationConfig は1リクエスト分のLLM生成設定を表す
// ゼロ値のフィールドはプロバイダ実装側のデフォルトが適用される
type GenerationConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// CompletionRequest はLLMへの補完要求を表す
type CompletionRequest struct {
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// CompletionResponse はLLMからの補完結果を表す
type CompletionResponse struct {
	Text  string // 生成されたテキスト
	Model string // 実際に使用されたモデル
}

// GenerationClient はクエリ生成・回答合成に使うLLM通信インターフェース
type GenerationClient interface {
	GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// SkippedReason に入る定型文。実行エラー時はエラーの説明文がそのまま入る
const (
	// SkipReasonNoQuery はLLM出力からクエリ候補を抽出できなかったことを表す
	SkipReasonNoQuery = "no query in model output"

	// SkipReasonNotRequested は実行が要求されなかったことを表す
	SkipReasonNotRequested = "execution not requested"
)

// AnswerParams は質問応答のパラメータを表す
type AnswerParams struct {
	ConnectionID uuid.UUID
	Question     string           // ユーザーの質問文
	Generation   GenerationConfig // LLM生成設定
	AutoExecute  mo.Option[bool]  // 未指定なら質問文から実行要否を判定
	TopK         int              // スキーマ検索の上限（0以下ならデフォルト）
}

// GeneratedQuery は生成されたクエリ候補と検証結果を表す
type GeneratedQuery struct {
	Dialect   connection.Dialect
	Raw       string         // LLM出力から抽出した候補の原文
	Statement string         // 検証を通過した実行可能文（行数上限の書き換え込み）
	Verdict   safety.Verdict // 検証結果
	Attempts  int            // 費やした生成試行回数
}

// Answer は質問応答の最終結果を表す
type Answer struct {
	Text          string                            // 回答本文
	Query         mo.Option[GeneratedQuery]         // 生成されたクエリ（抽出できなかった場合はNone）
	Execution     mo.Option[connection.QueryResult] // 実行結果（実行しなかった場合はNone）
	SkippedReason string                            // 実行や合成が完遂しなかった理由（すべて成功した場合は空）
	Elapsed       time.Duration
}
