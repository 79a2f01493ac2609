// Package connector はターゲットデータベースごとの connection.Connector 実装を提供する
package connector

import (
	"context"
	"fmt"

	"github.com/jinford/db-rag/internal/core/connection"
)

// Registry は接続定義の方言に応じたConnectorを開く
type Registry struct{}

// コンパイル時の型チェック
var _ connection.ConnectorOpener = (*Registry)(nil)

// NewRegistry は新しいRegistryを作成する
func NewRegistry() *Registry {
	return &Registry{}
}

// Open は接続定義からConnectorを開き、疎通を確認して返す
func (r *Registry) Open(ctx context.Context, conn *connection.Connection) (connection.Connector, error) {
	switch conn.Dialect {
	case connection.DialectPostgres:
		return openRelational(ctx, postgresDialect, conn.DSN)
	case connection.DialectMySQL:
		return openRelational(ctx, mysqlDialect, conn.DSN)
	case connection.DialectMongoDB:
		return openDocument(ctx, conn.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", connection.ErrUnknownDialect, conn.Dialect)
	}
}
