package retrieval

import (
	"github.com/google/uuid"
)

// ScoredChunk は類似度検索で取得したスキーマコンテキストを表す
type ScoredChunk struct {
	ChunkID   uuid.UUID `json:"chunkID"`
	TableName string    `json:"tableName"`
	Kind      string    `json:"kind"` // schema | sample
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
}

// SearchParams は検索パラメータを表す
type SearchParams struct {
	ConnectionID uuid.UUID
	Question     string
	TopK         int // 0以下ならデフォルト値を適用
}
