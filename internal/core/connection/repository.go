package connection

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound は接続が登録されていないことを表す
var ErrNotFound = errors.New("connection not found")

// ErrAlreadyExists は同名の接続が既に登録されていることを表す
var ErrAlreadyExists = errors.New("connection already exists")

// Repository は接続レジストリのデータアクセスインターフェース
type Repository interface {
	// Create は接続を登録する。同名の接続が存在する場合はErrAlreadyExistsを返す
	Create(ctx context.Context, conn *Connection) error

	// GetByID はIDで接続を取得する。存在しない場合はErrNotFoundを返す
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)

	// GetByName は接続名で接続を取得する。存在しない場合はErrNotFoundを返す
	GetByName(ctx context.Context, name string) (*Connection, error)

	// List は登録済みの全接続を返す
	List(ctx context.Context) ([]*Connection, error)

	// Delete は接続と関連するインデックスを削除する
	Delete(ctx context.Context, id uuid.UUID) error
}
