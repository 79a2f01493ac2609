package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultVectorDimension はDDLに埋め込むデフォルトのベクトル次元
const DefaultVectorDimension = 1536

// schemaDDL はエンジン用メタデータストアのスキーマ定義
// %d には埋め込みベクトルの次元数が入る
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS connections (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    dialect     TEXT NOT NULL,
    dsn         TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS schema_indexes (
    connection_id     UUID PRIMARY KEY REFERENCES connections(id) ON DELETE CASCADE,
    embedder_identity TEXT NOT NULL,
    generation        UUID NOT NULL,
    table_count       INTEGER NOT NULL,
    chunk_count       INTEGER NOT NULL,
    indexed_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_chunks (
    id            UUID PRIMARY KEY,
    connection_id UUID NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
    generation    UUID NOT NULL,
    table_name    TEXT NOT NULL,
    kind          TEXT NOT NULL,
    content       TEXT NOT NULL,
    token_count   INTEGER NOT NULL DEFAULT 0,
    embedding     vector(%d) NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_schema_chunks_connection_generation
    ON schema_chunks (connection_id, generation);

CREATE INDEX IF NOT EXISTS idx_schema_chunks_embedding
    ON schema_chunks USING hnsw (embedding vector_cosine_ops);
`

// EnsureSchema はメタデータストアに必要なテーブルとインデックスを作成する
// 既に存在する場合は何もしない。dimensionが0以下の場合はデフォルト次元を使う
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		dimension = DefaultVectorDimension
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaDDL, dimension)); err != nil {
		return fmt.Errorf("failed to ensure metadata store schema: %w", err)
	}

	return nil
}
