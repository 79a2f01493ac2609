package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/db-rag/internal/core/indexing"
	"github.com/jinford/db-rag/internal/core/retrieval"
	"github.com/jinford/db-rag/pkg/lock"
)

// indexLockScope はインデックス置き換え時のアドバイザリロックの名前空間
const indexLockScope = "schema_index"

// IndexRepository はスキーマインデックスの永続化と類似度検索を提供する
// PostgreSQL + pgvector リポジトリ
type IndexRepository struct {
	db dbtx

	// provider はReplaceIndexのトランザクション管理に使用する
	// （newTxIndexRepositoryで作られたトランザクションスコープのインスタンスではnil）
	provider *TransactionProvider
}

// NewIndexRepository は新しい IndexRepository を作成する
func NewIndexRepository(pool *pgxpool.Pool) *IndexRepository {
	return &IndexRepository{db: pool, provider: NewTransactionProvider(pool)}
}

func newTxIndexRepository(tx pgx.Tx) *IndexRepository {
	return &IndexRepository{db: tx}
}

// コンパイル時の型チェック
var (
	_ indexing.Repository  = (*IndexRepository)(nil)
	_ retrieval.Repository = (*IndexRepository)(nil)
	_ retrieval.StateStore = (*IndexRepository)(nil)
)

// ReplaceIndex は接続のインデックスを新しい世代で原子的に置き換える
//
// 単一トランザクション内で接続ごとのアドバイザリロックを取得してから
// 新世代チャンクの挿入・schema_indexesの更新・旧世代チャンクの削除を行う。
// 並行する読み手には置き換え前か置き換え後の世代だけが見える
func (r *IndexRepository) ReplaceIndex(ctx context.Context, state indexing.IndexState, chunks []indexing.Chunk) error {
	_, err := Transact(ctx, r.provider, func(a *Adapter) (struct{}, error) {
		lockID := lock.GenerateLockID(indexLockScope, state.ConnectionID.String())
		if err := a.Locks.Acquire(ctx, lockID); err != nil {
			return struct{}{}, err
		}

		if err := a.Index.insertChunks(ctx, state.Generation, chunks); err != nil {
			return struct{}{}, err
		}
		if err := a.Index.upsertIndexState(ctx, state); err != nil {
			return struct{}{}, err
		}
		if err := a.Index.deleteStaleChunks(ctx, state.ConnectionID, state.Generation); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, nil
	})
	return err
}

// GetIndexState は接続のインデックス状態を取得する
// 一度もインデックスされていない場合はnilを返す
func (r *IndexRepository) GetIndexState(ctx context.Context, connectionID uuid.UUID) (*indexing.IndexState, error) {
	row := r.db.QueryRow(ctx, `
		SELECT connection_id, embedder_identity, generation, table_count, chunk_count, indexed_at
		FROM schema_indexes
		WHERE connection_id = $1`,
		UUIDToPgtype(connectionID),
	)

	var (
		cid, generation        pgtype.UUID
		identity               string
		tableCount, chunkCount int32
		indexedAt              pgtype.Timestamptz
	)
	if err := row.Scan(&cid, &identity, &generation, &tableCount, &chunkCount, &indexedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get index state: %w", err)
	}

	return &indexing.IndexState{
		ConnectionID:     PgtypeToUUID(cid),
		EmbedderIdentity: identity,
		Generation:       PgtypeToUUID(generation),
		TableCount:       int(tableCount),
		ChunkCount:       int(chunkCount),
		IndexedAt:        PgtypeToTime(indexedAt),
	}, nil
}

// SearchChunks は指定世代のチャンクに対してコサイン類似度検索を実行する
func (r *IndexRepository) SearchChunks(ctx context.Context, connectionID, generation uuid.UUID, queryVector []float32, limit int) ([]*retrieval.ScoredChunk, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, table_name, kind, content, 1 - (embedding <=> $1) AS score
		FROM schema_chunks
		WHERE connection_id = $2 AND generation = $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(queryVector),
		UUIDToPgtype(connectionID),
		UUIDToPgtype(generation),
		int32(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	results := make([]*retrieval.ScoredChunk, 0, limit)
	for rows.Next() {
		var (
			id                       pgtype.UUID
			tableName, kind, content string
			score                    float64
		)
		if err := rows.Scan(&id, &tableName, &kind, &content, &score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, &retrieval.ScoredChunk{
			ChunkID:   PgtypeToUUID(id),
			TableName: tableName,
			Kind:      kind,
			Content:   content,
			Score:     score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	return results, nil
}

func (r *IndexRepository) insertChunks(ctx context.Context, generation uuid.UUID, chunks []indexing.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		batch.Queue(`
			INSERT INTO schema_chunks (id, connection_id, generation, table_name, kind, content, token_count, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			UUIDToPgtype(chunk.ID),
			UUIDToPgtype(chunk.ConnectionID),
			UUIDToPgtype(generation),
			chunk.TableName,
			string(chunk.Kind),
			chunk.Content,
			int32(chunk.TokenCount),
			pgvector.NewVector(chunk.Embedding),
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert chunk %s/%s: %w", chunks[i].TableName, chunks[i].Kind, err)
		}
	}

	return nil
}

func (r *IndexRepository) upsertIndexState(ctx context.Context, state indexing.IndexState) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO schema_indexes (connection_id, embedder_identity, generation, table_count, chunk_count, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id) DO UPDATE SET
			embedder_identity = EXCLUDED.embedder_identity,
			generation        = EXCLUDED.generation,
			table_count       = EXCLUDED.table_count,
			chunk_count       = EXCLUDED.chunk_count,
			indexed_at        = EXCLUDED.indexed_at`,
		UUIDToPgtype(state.ConnectionID),
		state.EmbedderIdentity,
		UUIDToPgtype(state.Generation),
		int32(state.TableCount),
		int32(state.ChunkCount),
		TimeToPgtype(state.IndexedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert index state: %w", err)
	}

	return nil
}

func (r *IndexRepository) deleteStaleChunks(ctx context.Context, connectionID, keepGeneration uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM schema_chunks
		WHERE connection_id = $1 AND generation <> $2`,
		UUIDToPgtype(connectionID),
		UUIDToPgtype(keepGeneration),
	)
	if err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", err)
	}

	return nil
}
