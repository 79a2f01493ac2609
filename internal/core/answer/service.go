package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/retrieval"
	"github.com/jinford/db-rag/internal/core/safety"
	"github.com/jinford/db-rag/pkg/tokens"
)

const (
	defaultMaxResultRows      = 100
	defaultMaxAttempts        = 3
	defaultExecutionTimeout   = 15 * time.Second
	defaultContextTokenBudget = 2000
)

// 質問文からデータ取得の意図を推定するキーワード
// 明示的な指定（AutoExecute）があればそちらが優先される
var autoExecuteHints = []string{
	"show me", "show all", "list", "display", "fetch", "retrieve", "find",
	"count", "how many", "total", "sum", "average", "latest", "recent", "top ",
	"一覧", "件数", "何件", "見せて",
}

// AnswerService は質問応答のビジネスロジックを提供する
//
// 検索 → クエリ生成 → 検証 → 実行 → 回答合成のパイプラインを統括する。
// 検証を通らなかったクエリが実行されることはなく、実行の失敗が
// 自動リトライされることもない
type AnswerService struct {
	connections connection.Repository
	retrieval   *retrieval.RetrievalService
	llm         GenerationClient
	opener      connection.ConnectorOpener
	counter     *tokens.Counter
	logger      *slog.Logger

	maxRows       int
	maxAttempts   int
	execTimeout   time.Duration
	contextBudget int
}

type AnswerServiceOption func(*AnswerService)

// WithAnswerLogger は AnswerService にロガーを設定する
func WithAnswerLogger(logger *slog.Logger) AnswerServiceOption {
	return func(s *AnswerService) {
		s.logger = logger
	}
}

// WithMaxResultRows は実行結果の行数上限を設定する
func WithMaxResultRows(n int) AnswerServiceOption {
	return func(s *AnswerService) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithMaxAttempts はクエリ生成の最大試行回数を設定する
func WithMaxAttempts(n int) AnswerServiceOption {
	return func(s *AnswerService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithExecutionTimeout はクエリ実行の独立タイムアウトを設定する
func WithExecutionTimeout(d time.Duration) AnswerServiceOption {
	return func(s *AnswerService) {
		if d > 0 {
			s.execTimeout = d
		}
	}
}

// WithContextTokenBudget はプロンプトのスキーマ情報部に割り当てるトークン数を設定する
func WithContextTokenBudget(n int) AnswerServiceOption {
	return func(s *AnswerService) {
		if n > 0 {
			s.contextBudget = n
		}
	}
}

// WithAnswerTokenCounter はトークンカウンタを設定する
func WithAnswerTokenCounter(c *tokens.Counter) AnswerServiceOption {
	return func(s *AnswerService) {
		s.counter = c
	}
}

// NewAnswerService は新しいAnswerServiceを作成する
func NewAnswerService(
	connections connection.Repository,
	retrievalService *retrieval.RetrievalService,
	llm GenerationClient,
	opener connection.ConnectorOpener,
	opts ...AnswerServiceOption,
) *AnswerService {
	svc := &AnswerService{
		connections:   connections,
		retrieval:     retrievalService,
		llm:           llm,
		opener:        opener,
		logger:        slog.Default(),
		maxRows:       defaultMaxResultRows,
		maxAttempts:   defaultMaxAttempts,
		execTimeout:   defaultExecutionTimeout,
		contextBudget: defaultContextTokenBudget,
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Answer は質問に対してスキーマ検索・クエリ生成・実行・回答合成を行う
//
// クエリが抽出できない、検証を通らない、実行に失敗する、といった状態は
// エラーではなく SkippedReason を持つ Answer として返す。エラーになるのは
// 検索やクエリ生成そのものが継続不能な場合だけ
func (s *AnswerService) Answer(ctx context.Context, params AnswerParams) (*Answer, error) {
	started := time.Now()

	// 1. バリデーション
	if params.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if params.ConnectionID == uuid.Nil {
		return nil, fmt.Errorf("connectionID is required")
	}

	// 2. 接続情報の取得
	conn, err := s.connections.GetByID(ctx, params.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	// 3. スキーマコンテキストの検索
	chunks, err := s.retrieval.Retrieve(ctx, retrieval.SearchParams{
		ConnectionID: params.ConnectionID,
		Question:     params.Question,
		TopK:         params.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve schema context: %w", err)
	}

	// 4. クエリ生成と検証（修復ループ）
	generated, narrative, err := s.generateQuery(ctx, conn.Dialect, params, chunks)
	if err != nil {
		return nil, err
	}

	if generated == nil {
		// 候補が抽出できない場合は説明文のみの回答として成立させる
		return &Answer{
			Text:          strings.TrimSpace(narrative),
			SkippedReason: SkipReasonNoQuery,
			Elapsed:       time.Since(started),
		}, nil
	}

	if !generated.Verdict.Safe {
		s.logger.Warn("query rejected after all attempts",
			"connection", conn.Name,
			"attempts", generated.Attempts,
			"reason", generated.Verdict.Reason,
		)
		return &Answer{
			Text:          strings.TrimSpace(narrative),
			Query:         mo.Some(*generated),
			SkippedReason: "unsafe: " + generated.Verdict.Reason,
			Elapsed:       time.Since(started),
		}, nil
	}

	// 5. 実行要否の判断
	execute := params.AutoExecute.OrElse(shouldAutoExecute(params.Question))
	if !execute {
		return &Answer{
			Text:          strings.TrimSpace(narrative),
			Query:         mo.Some(*generated),
			SkippedReason: SkipReasonNotRequested,
			Elapsed:       time.Since(started),
		}, nil
	}

	// 6. クエリ実行
	result, err := s.execute(ctx, conn, generated.Verdict.Statement)
	if err != nil {
		s.logger.Warn("query execution failed",
			"connection", conn.Name,
			"error", err,
		)
		return &Answer{
			Text:          strings.TrimSpace(narrative),
			Query:         mo.Some(*generated),
			SkippedReason: describeExecutionError(err),
			Elapsed:       time.Since(started),
		}, nil
	}

	s.logger.Info("query executed",
		"connection", conn.Name,
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"elapsedMs", result.Elapsed.Milliseconds(),
	)

	// 7. 実行結果を織り込んだ回答の合成
	answer := &Answer{
		Query:     mo.Some(*generated),
		Execution: mo.Some(*result),
	}

	text, synthErr := s.synthesize(ctx, params, generated, result)
	if synthErr != nil {
		// 合成に失敗しても取得済みのデータは返す
		s.logger.Warn("answer synthesis failed, falling back to summary", "error", synthErr)
		answer.Text = fallbackSummary(result)
		answer.SkippedReason = fmt.Sprintf("answer synthesis failed: %v", synthErr)
	} else {
		answer.Text = text
	}

	answer.Elapsed = time.Since(started)
	return answer, nil
}

// GenerateQuery はクエリの生成と検証のみを行い、実行はしない
func (s *AnswerService) GenerateQuery(ctx context.Context, params AnswerParams) (*GeneratedQuery, error) {
	if params.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if params.ConnectionID == uuid.Nil {
		return nil, fmt.Errorf("connectionID is required")
	}

	conn, err := s.connections.GetByID(ctx, params.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	chunks, err := s.retrieval.Retrieve(ctx, retrieval.SearchParams{
		ConnectionID: params.ConnectionID,
		Question:     params.Question,
		TopK:         params.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve schema context: %w", err)
	}

	generated, _, err := s.generateQuery(ctx, conn.Dialect, params, chunks)
	if err != nil {
		return nil, err
	}
	if generated == nil {
		return nil, errors.New(SkipReasonNoQuery)
	}
	return generated, nil
}

// generateQuery は検証を通過するクエリを得るまで生成を繰り返す
//
// 拒否理由を修復プロンプトに載せて最大maxAttempts回まで再試行する。
// 候補が抽出できなかった時点で打ち切り（nil, 説明文, nil）を返し、
// 全試行が拒否された場合は最後の候補を不合格の検証結果ごと返す
func (s *AnswerService) generateQuery(
	ctx context.Context,
	dialect connection.Dialect,
	params AnswerParams,
	chunks []*retrieval.ScoredChunk,
) (*GeneratedQuery, string, error) {
	validator := safety.ForDialect(dialect, s.maxRows)

	promptParams := QueryPromptParams{
		Question:           params.Question,
		Dialect:            dialect,
		Chunks:             chunks,
		ContextTokenBudget: s.contextBudget,
		Counter:            s.counter,
	}

	var (
		lastRaw       string
		lastCandidate string
		lastVerdict   safety.Verdict
		attempts      int
	)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		attempts = attempt

		resp, err := s.llm.GenerateCompletion(ctx, CompletionRequest{
			Prompt:      BuildQueryPrompt(promptParams),
			Model:       params.Generation.Model,
			Temperature: params.Generation.Temperature,
			MaxTokens:   params.Generation.MaxTokens,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate query: %w", err)
		}
		lastRaw = resp.Text

		candidate, ok := ExtractQuery(resp.Text, dialect.Family())
		if !ok {
			return nil, lastRaw, nil
		}

		verdict := validator.Validate(candidate)
		lastCandidate, lastVerdict = candidate, verdict

		if verdict.Safe {
			return &GeneratedQuery{
				Dialect:   dialect,
				Raw:       candidate,
				Statement: verdict.Statement,
				Verdict:   verdict,
				Attempts:  attempt,
			}, lastRaw, nil
		}

		s.logger.Warn("generated query rejected",
			"attempt", attempt,
			"reason", verdict.Reason,
		)
		promptParams.PreviousCandidate = candidate
		promptParams.RejectionReason = verdict.Reason
	}

	return &GeneratedQuery{
		Dialect:  dialect,
		Raw:      lastCandidate,
		Verdict:  lastVerdict,
		Attempts: attempts,
	}, lastRaw, nil
}

// execute は検証済みの文を独立したタイムアウトの下で実行する
func (s *AnswerService) execute(ctx context.Context, conn *connection.Connection, statement string) (*connection.QueryResult, error) {
	connector, err := s.opener.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer connector.Close(ctx)

	execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	return connector.Execute(execCtx, statement, s.maxRows)
}

func (s *AnswerService) synthesize(ctx context.Context, params AnswerParams, generated *GeneratedQuery, result *connection.QueryResult) (string, error) {
	resp, err := s.llm.GenerateCompletion(ctx, CompletionRequest{
		Prompt: BuildSynthesisPrompt(SynthesisPromptParams{
			Question:  params.Question,
			Statement: generated.Verdict.Statement,
			Result:    result,
		}),
		Model:       params.Generation.Model,
		Temperature: params.Generation.Temperature,
		MaxTokens:   params.Generation.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// shouldAutoExecute は質問文がデータの取得を求めているかを推定する
func shouldAutoExecute(question string) bool {
	lower := strings.ToLower(question)
	for _, hint := range autoExecuteHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// describeExecutionError は実行エラーを回答に載せる理由文へ変換する
func describeExecutionError(err error) string {
	var queryErr *connection.QueryError
	switch {
	case errors.Is(err, connection.ErrExecutionTimeout):
		return "execution timeout"
	case errors.As(err, &queryErr):
		return queryErr.Message
	case errors.Is(err, connection.ErrConnectionFailed):
		return "could not connect to the target database"
	default:
		return err.Error()
	}
}

// fallbackSummary は合成LLMが使えない場合の決定的な要約文を組み立てる
func fallbackSummary(result *connection.QueryResult) string {
	if result.RowCount == 0 {
		return "The query returned no matching rows."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The query returned %d rows", result.RowCount)
	if result.Truncated {
		sb.WriteString(" (truncated at the row cap)")
	}
	sb.WriteString(".")

	shown := len(result.Rows)
	if shown > 5 {
		shown = 5
	}
	if shown > 0 {
		sb.WriteString("\n")
		for _, row := range result.Rows[:shown] {
			line, err := json.Marshal(row)
			if err != nil {
				continue
			}
			sb.WriteString("\n")
			sb.Write(line)
		}
		if result.RowCount > shown {
			fmt.Fprintf(&sb, "\n... and %d more rows.", result.RowCount-shown)
		}
	}
	return sb.String()
}
