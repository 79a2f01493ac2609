package indexing

import (
	"context"
	"fmt"
)

// Embedder はテキストをベクトル表現に変換するインターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// BatchEmbed はバッチでEmbeddingを生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// MaxBatchSize は一度のBatchEmbedで渡せるテキスト数の上限を返す
	MaxBatchSize() int

	// Metadata はプロバイダの識別情報を返す
	Metadata() EmbedderMetadata
}

// EmbedderMetadata は埋め込みプロバイダの識別情報を表す
// 同一のベクトル空間で検索するため、インデックス時の識別子を保存して
// 検索時に照合する
type EmbedderMetadata struct {
	Provider  string // 例: "openai"
	Model     string // 例: "text-embedding-3-small"
	Dimension int
}

// Identity はプロバイダ・モデル・次元数を連結した識別子を返す
func (m EmbedderMetadata) Identity() string {
	return fmt.Sprintf("%s/%s/%d", m.Provider, m.Model, m.Dimension)
}
