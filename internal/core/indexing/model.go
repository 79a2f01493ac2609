package indexing

import (
	"time"

	"github.com/google/uuid"
)

// ChunkKind はチャンクの内容種別を表す
type ChunkKind string

const (
	// ChunkKindSchema はテーブル定義から生成されたチャンク
	ChunkKindSchema ChunkKind = "schema"
	// ChunkKindSample はサンプル行から生成されたチャンク
	ChunkKindSample ChunkKind = "sample"
)

// Chunk はベクトルストアに格納する意味検索の単位を表す
type Chunk struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	TableName    string
	Kind         ChunkKind
	Content      string
	TokenCount   int
	Embedding    []float32
}

// IndexState は接続ごとのインデックス状態を表す
// Generationが現在有効なチャンク集合を指し、再インデックスのたびに置き換わる
type IndexState struct {
	ConnectionID     uuid.UUID
	EmbedderIdentity string // インデックス時に使用した埋め込みプロバイダの識別子
	Generation       uuid.UUID
	TableCount       int
	ChunkCount       int
	IndexedAt        time.Time
}

// IndexResult はインデックス実行の結果を表す
type IndexResult struct {
	Generation    uuid.UUID
	TableCount    int
	ChunkCount    int
	SkippedTables []string // 除外パターンに一致してスキップしたテーブル名
	Elapsed       time.Duration
}
