package retrieval

import (
	"context"

	"github.com/google/uuid"
)

// Repository は検索対象チャンクへのデータアクセスを提供する
type Repository interface {
	// SearchChunks は指定世代のチャンクに対してコサイン類似度検索を実行し、
	// スコアの高い順に最大limit件を返す
	SearchChunks(ctx context.Context, connectionID, generation uuid.UUID, queryVector []float32, limit int) ([]*ScoredChunk, error)
}
