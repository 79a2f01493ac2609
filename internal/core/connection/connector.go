package connection

import (
	"context"
	"errors"
	"fmt"
)

// 実行系の型付きエラー。呼び出し側はerrors.Isで分類できる
var (
	// ErrExecutionTimeout はクエリ実行がタイムアウトしたことを表す
	ErrExecutionTimeout = errors.New("query execution timed out")

	// ErrConnectionFailed はターゲットデータベースへの接続に失敗したことを表す
	ErrConnectionFailed = errors.New("failed to connect to target database")
)

// QueryError はターゲットデータベースが返したクエリエラーを表す
// ドライバのエラーメッセージをそのまま保持する（握りつぶさない）
type QueryError struct {
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %s", e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Connector はターゲットデータベースへの操作インターフェース
// 方言ごとの実装がスキーマ取得とクエリ実行の能力を提供する
type Connector interface {
	// Introspect はスキーマとサンプル行を取得する
	// sampleRowsはテーブルごとに取得するサンプル行数（0でサンプルなし）
	Introspect(ctx context.Context, sampleRows int) (*SchemaSnapshot, error)

	// Execute は検証済みクエリを実行する。maxRowsを超える行は読み捨て、
	// Truncatedを立てて返す。タイムアウト時はErrExecutionTimeoutを返す
	Execute(ctx context.Context, statement string, maxRows int) (*QueryResult, error)

	// Ping は接続の疎通を確認する
	Ping(ctx context.Context) error

	// Close は接続を閉じる
	Close(ctx context.Context) error
}

// ConnectorOpener は接続定義からConnectorを開くインターフェース
type ConnectorOpener interface {
	Open(ctx context.Context, conn *Connection) (Connector, error)
}
