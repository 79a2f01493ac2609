package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/db-rag/internal/core/indexing"
)

// チャンク検索のデフォルト件数
const defaultTopK = 3

var (
	// ErrNotIndexed は接続がまだインデックスされていないことを表す
	ErrNotIndexed = errors.New("connection is not indexed")

	// ErrEmbedderMismatch はインデックス時と現在の埋め込み設定が一致しないことを表す
	ErrEmbedderMismatch = errors.New("embedder identity mismatch")
)

// Embedder は質問文のEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// Metadata は埋め込みモデルのメタデータを返す
	Metadata() indexing.EmbedderMetadata
}

// StateStore はインデックス状態の参照を提供する
type StateStore interface {
	// GetIndexState は接続の現在のインデックス状態を返す
	// 一度もインデックスされていない場合は nil を返す
	GetIndexState(ctx context.Context, connectionID uuid.UUID) (*indexing.IndexState, error)
}

// RetrievalService はスキーマコンテキスト検索のビジネスロジックを提供する
type RetrievalService struct {
	states   StateStore
	repo     Repository
	embedder Embedder
	logger   *slog.Logger
}

type RetrievalServiceOption func(*RetrievalService)

// WithRetrievalLogger は RetrievalService にロガーを設定する
func WithRetrievalLogger(logger *slog.Logger) RetrievalServiceOption {
	return func(s *RetrievalService) {
		s.logger = logger
	}
}

// NewRetrievalService は新しいRetrievalServiceを作成する
func NewRetrievalService(
	states StateStore,
	repo Repository,
	embedder Embedder,
	opts ...RetrievalServiceOption,
) *RetrievalService {
	svc := &RetrievalService{
		states:   states,
		repo:     repo,
		embedder: embedder,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Retrieve は質問文に関連するスキーマチャンクをスコア順に返す
//
// インデックス時に記録された埋め込み設定と現在の設定が一致しない場合は
// ErrEmbedderMismatch を返す。混在した空間で距離を比較しても意味がないため、
// 再インデックスするまで検索は拒否される
func (s *RetrievalService) Retrieve(ctx context.Context, params SearchParams) ([]*ScoredChunk, error) {
	// 1. バリデーション
	if params.Question == "" {
		return nil, fmt.Errorf("question is required")
	}
	if params.ConnectionID == uuid.Nil {
		return nil, fmt.Errorf("connectionID is required")
	}

	// 2. インデックス状態の確認
	state, err := s.states.GetIndexState(ctx, params.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load index state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("connection %s: %w", params.ConnectionID, ErrNotIndexed)
	}

	identity := s.embedder.Metadata().Identity()
	if state.EmbedderIdentity != identity {
		return nil, fmt.Errorf("index was built with %q but current embedder is %q: %w",
			state.EmbedderIdentity, identity, ErrEmbedderMismatch)
	}

	// 3. 質問文をEmbeddingに変換
	queryVector, err := s.embedder.Embed(ctx, params.Question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	// 4. デフォルトのTopK設定
	topK := params.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	// 5. 現行世代のチャンクに対してベクトル検索
	chunks, err := s.repo.SearchChunks(ctx, params.ConnectionID, state.Generation, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("chunk search failed: %w", err)
	}

	s.logger.Info("schema context retrieved",
		"connectionID", params.ConnectionID.String(),
		"generation", state.Generation.String(),
		"topK", topK,
		"hits", len(chunks),
	)

	return chunks, nil
}
