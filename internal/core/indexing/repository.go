package indexing

import (
	"context"

	"github.com/google/uuid"
)

// Repository はインデックスの永続化インターフェース
type Repository interface {
	// ReplaceIndex は接続のインデックスを新しい世代で置き換える
	// 置き換えは原子的に行われ、旧世代と新世代が混在した状態が
	// 読み手から見えることはない
	ReplaceIndex(ctx context.Context, state IndexState, chunks []Chunk) error

	// GetIndexState は接続のインデックス状態を取得する
	// 一度もインデックスされていない場合はnilを返す
	GetIndexState(ctx context.Context, connectionID uuid.UUID) (*IndexState, error)
}
