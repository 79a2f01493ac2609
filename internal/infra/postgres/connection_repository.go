package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jinford/db-rag/internal/core/connection"
)

// uniqueViolation はPostgreSQLのユニーク制約違反エラーコード
const uniqueViolation = "23505"

// ConnectionRepository は connection.Repository を実装する PostgreSQL リポジトリ
type ConnectionRepository struct {
	db dbtx
}

// NewConnectionRepository は新しい ConnectionRepository を作成する
func NewConnectionRepository(db dbtx) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// コンパイル時の型チェック
var _ connection.Repository = (*ConnectionRepository)(nil)

func (r *ConnectionRepository) Create(ctx context.Context, conn *connection.Connection) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO connections (id, name, dialect, dsn, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		UUIDToPgtype(conn.ID),
		conn.Name,
		string(conn.Dialect),
		conn.DSN,
		TimeToPgtype(conn.CreatedAt),
		TimeToPgtype(conn.UpdatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("failed to create connection: %w", connection.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*connection.Connection, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, dialect, dsn, created_at, updated_at
		FROM connections
		WHERE id = $1`,
		UUIDToPgtype(id),
	)

	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", connection.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return conn, nil
}

func (r *ConnectionRepository) GetByName(ctx context.Context, name string) (*connection.Connection, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, dialect, dsn, created_at, updated_at
		FROM connections
		WHERE name = $1`,
		name,
	)

	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", connection.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return conn, nil
}

func (r *ConnectionRepository) List(ctx context.Context) ([]*connection.Connection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, dialect, dsn, created_at, updated_at
		FROM connections
		ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	conns := make([]*connection.Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	return conns, nil
}

func (r *ConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// schema_indexes と schema_chunks は外部キーのON DELETE CASCADEで一緒に消える
	tag, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, UUIDToPgtype(id))
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", connection.ErrNotFound, id)
	}

	return nil
}

// rowScanner は pgx.Row と pgx.Rows の共通部分
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*connection.Connection, error) {
	var (
		id                   pgtype.UUID
		name, dialect, dsn   string
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &name, &dialect, &dsn, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	return &connection.Connection{
		ID:        PgtypeToUUID(id),
		Name:      name,
		Dialect:   connection.Dialect(dialect),
		DSN:       dsn,
		CreatedAt: PgtypeToTime(createdAt),
		UpdatedAt: PgtypeToTime(updatedAt),
	}, nil
}
