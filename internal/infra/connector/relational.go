package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQL系ターゲットデータベースへの接続に使用するドライバ
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jinford/db-rag/internal/core/connection"
)

// relationalDialect は方言ごとのイントロスペクションクエリと識別子の引用規則を持つ
type relationalDialect struct {
	driverName     string
	listTablesSQL  string
	listColumnsSQL string
	primaryKeySQL  string
	foreignKeySQL  string
	rowEstimateSQL string
	quoteIdent     func(string) string
}

var postgresDialect = relationalDialect{
	driverName: "pgx",
	listTablesSQL: `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
	listColumnsSQL: `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`,
	primaryKeySQL: `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'PRIMARY KEY'`,
	foreignKeySQL: `
		SELECT kcu.column_name, ccu.table_name AS ref_table, ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'FOREIGN KEY'`,
	rowEstimateSQL: `SELECT reltuples::bigint FROM pg_class WHERE relname = $1`,
	quoteIdent: func(name string) string {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	},
}

var mysqlDialect = relationalDialect{
	driverName: "mysql",
	listTablesSQL: `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
	listColumnsSQL: `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`,
	primaryKeySQL: `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ? AND constraint_name = 'PRIMARY'`,
	foreignKeySQL: `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL`,
	rowEstimateSQL: `
		SELECT table_rows
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`,
	quoteIdent: func(name string) string {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	},
}

// RelationalConnector はSQL系ターゲットデータベースへの connection.Connector 実装
type RelationalConnector struct {
	db      *sql.DB
	dialect relationalDialect
}

// コンパイル時の型チェック
var _ connection.Connector = (*RelationalConnector)(nil)

func openRelational(ctx context.Context, dialect relationalDialect, dsn string) (*RelationalConnector, error) {
	db, err := sql.Open(dialect.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}

	return &RelationalConnector{db: db, dialect: dialect}, nil
}

// newRelationalConnector は既存の*sql.DBからコネクタを組み立てる（テスト用）
func newRelationalConnector(db *sql.DB, dialect relationalDialect) *RelationalConnector {
	return &RelationalConnector{db: db, dialect: dialect}
}

// Introspect はスキーマとサンプル行を取得する
func (c *RelationalConnector) Introspect(ctx context.Context, sampleRows int) (*connection.SchemaSnapshot, error) {
	tables, err := c.listTables(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &connection.SchemaSnapshot{Tables: make([]connection.TableSchema, 0, len(tables))}
	for _, name := range tables {
		table, err := c.describeTable(ctx, name, sampleRows)
		if err != nil {
			return nil, err
		}
		snapshot.Tables = append(snapshot.Tables, *table)
	}

	return snapshot, nil
}

func (c *RelationalConnector) listTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.listTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	return tables, nil
}

func (c *RelationalConnector) describeTable(ctx context.Context, name string, sampleRows int) (*connection.TableSchema, error) {
	columns, err := c.listColumns(ctx, name)
	if err != nil {
		return nil, err
	}

	primaryKeys, err := c.listPrimaryKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		if _, ok := primaryKeys[columns[i].Name]; ok {
			columns[i].PrimaryKey = true
		}
	}

	foreignKeys, err := c.listForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}

	table := &connection.TableSchema{
		Name:        name,
		Columns:     columns,
		ForeignKeys: foreignKeys,
		RowCount:    c.estimateRowCount(ctx, name),
	}

	if sampleRows > 0 {
		samples, err := c.sampleTable(ctx, name, sampleRows)
		if err != nil {
			return nil, err
		}
		table.SampleRows = samples
	}

	return table, nil
}

func (c *RelationalConnector) listColumns(ctx context.Context, table string) ([]connection.Column, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.listColumnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []connection.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, connection.Column{
			Name:     name,
			Type:     dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}

	return columns, nil
}

func (c *RelationalConnector) listPrimaryKeys(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.primaryKeySQL, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list primary keys of %s: %w", table, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key of %s: %w", table, err)
		}
		keys[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list primary keys of %s: %w", table, err)
	}

	return keys, nil
}

func (c *RelationalConnector) listForeignKeys(ctx context.Context, table string) ([]connection.ForeignKey, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.foreignKeySQL, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []connection.ForeignKey
	for rows.Next() {
		var column, refTable, refColumn string
		if err := rows.Scan(&column, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key of %s: %w", table, err)
		}
		fks = append(fks, connection.ForeignKey{
			Column:    column,
			RefTable:  refTable,
			RefColumn: refColumn,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list foreign keys of %s: %w", table, err)
	}

	return fks, nil
}

// estimateRowCount は統計情報ベースの概算行数を返す。取得できない場合は-1
func (c *RelationalConnector) estimateRowCount(ctx context.Context, table string) int64 {
	var count int64
	if err := c.db.QueryRowContext(ctx, c.dialect.rowEstimateSQL, table).Scan(&count); err != nil {
		return -1
	}
	return count
}

func (c *RelationalConnector) sampleTable(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", c.dialect.quoteIdent(table), limit)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to sample rows of %s: %w", table, err)
	}
	defer rows.Close()

	_, samples, _, err := scanRows(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample rows of %s: %w", table, err)
	}

	return samples, nil
}

// Execute は検証済みクエリを実行する
func (c *RelationalConnector) Execute(ctx context.Context, statement string, maxRows int) (*connection.QueryResult, error) {
	start := time.Now()

	rows, err := c.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, wrapRelationalError(err)
	}
	defer rows.Close()

	columns, rowMaps, truncated, err := scanRows(rows, maxRows)
	if err != nil {
		return nil, wrapRelationalError(err)
	}

	return &connection.QueryResult{
		Columns:   columns,
		Rows:      rowMaps,
		RowCount:  len(rowMaps),
		Truncated: truncated,
		Elapsed:   time.Since(start),
	}, nil
}

// Ping は接続の疎通を確認する
func (c *RelationalConnector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}
	return nil
}

// Close は接続を閉じる
func (c *RelationalConnector) Close(_ context.Context) error {
	return c.db.Close()
}

// scanRows は結果セットをカラム名つきの行マップに読み出す
// maxRowsを超える行があればそこで打ち切り、truncatedを立てる
func scanRows(rows *sql.Rows, maxRows int) ([]string, []map[string]any, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, err
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	out := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, err
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
			rowMap[col] = normalizeValue(values[i])
		}
		out = append(out, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}

	return columns, out, truncated, nil
}

// normalizeValue はドライバ固有の型をJSONで扱える表現に揃える
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return t
	}
}

func wrapRelationalError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", connection.ErrExecutionTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &connection.QueryError{Message: err.Error(), Err: err}
}
