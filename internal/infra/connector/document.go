package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/safety"
)

// クラスタ管理用のデータベース。スキーマ取得の対象から除外する
var systemDatabases = map[string]struct{}{
	"admin":  {},
	"local":  {},
	"config": {},
}

// DocumentConnector はMongoDBへの connection.Connector 実装
// クエリは正規化済みのJSON文書 {collection, filter|pipeline, limit} として受け取る
type DocumentConnector struct {
	client *mongo.Client
	db     *mongo.Database
}

// コンパイル時の型チェック
var _ connection.Connector = (*DocumentConnector)(nil)

func openDocument(ctx context.Context, dsn string) (*DocumentConnector, error) {
	client, err := mongo.Connect(ctx, mongoopts.Client().ApplyURI(dsn))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}

	dbName := databaseNameFromDSN(dsn)
	if dbName == "" {
		// DSNにデータベース名がない場合はシステム以外の最初のデータベースを使う
		dbName, err = firstUserDatabase(ctx, client)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
	}

	return &DocumentConnector{client: client, db: client.Database(dbName)}, nil
}

// databaseNameFromDSN はMongoDB接続URIのパス部からデータベース名を取り出す
func databaseNameFromDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func firstUserDatabase(ctx context.Context, client *mongo.Client) (string, error) {
	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}
	for _, name := range names {
		if _, system := systemDatabases[name]; !system {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no user database found", connection.ErrConnectionFailed)
}

// Introspect はコレクション一覧とサンプル文書からスキーマを推定する
// MongoDBにはカラム定義がないため、サンプル文書のフィールドをカラムとして扱う
func (c *DocumentConnector) Introspect(ctx context.Context, sampleRows int) (*connection.SchemaSnapshot, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)

	snapshot := &connection.SchemaSnapshot{Tables: make([]connection.TableSchema, 0, len(names))}
	for _, name := range names {
		table, err := c.describeCollection(ctx, name, sampleRows)
		if err != nil {
			return nil, err
		}
		snapshot.Tables = append(snapshot.Tables, *table)
	}

	return snapshot, nil
}

func (c *DocumentConnector) describeCollection(ctx context.Context, name string, sampleRows int) (*connection.TableSchema, error) {
	coll := c.db.Collection(name)

	// スキーマ推定のため、サンプルなし指定でも最低1件は読む
	fetch := sampleRows
	if fetch < 1 {
		fetch = 1
	}
	cursor, err := coll.Find(ctx, bson.M{}, mongoopts.Find().SetLimit(int64(fetch)))
	if err != nil {
		return nil, fmt.Errorf("failed to sample documents of %s: %w", name, err)
	}
	docs, _, err := readDocuments(ctx, cursor, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to sample documents of %s: %w", name, err)
	}

	table := &connection.TableSchema{
		Name:     name,
		Columns:  inferColumns(docs),
		RowCount: c.estimateDocumentCount(ctx, coll),
	}
	if sampleRows > 0 {
		table.SampleRows = docs
	}

	return table, nil
}

func (c *DocumentConnector) estimateDocumentCount(ctx context.Context, coll *mongo.Collection) int64 {
	count, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return -1
	}
	return count
}

// inferColumns はサンプル文書に現れたフィールドの和集合からカラム定義を推定する
func inferColumns(docs []map[string]any) []connection.Column {
	types := make(map[string]string)
	for _, doc := range docs {
		for field, value := range doc {
			if _, seen := types[field]; !seen || types[field] == "null" {
				types[field] = inferFieldType(value)
			}
		}
	}

	fields := make([]string, 0, len(types))
	for field := range types {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	columns := make([]connection.Column, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, connection.Column{
			Name:       field,
			Type:       types[field],
			Nullable:   field != "_id", // ドキュメントのフィールドは_id以外すべて省略可能
			PrimaryKey: field == "_id",
		})
	}

	return columns
}

func inferFieldType(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int32, int64, int:
		return "int"
	case float64, float32:
		return "double"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// Execute は検証済みのクエリ文書を実行する
// pipelineがあればaggregate、なければfindとして解釈する
func (c *DocumentConnector) Execute(ctx context.Context, statement string, maxRows int) (*connection.QueryResult, error) {
	query, err := safety.ParseDocumentQuery(statement)
	if err != nil {
		return nil, &connection.QueryError{Message: err.Error(), Err: err}
	}

	start := time.Now()
	coll := c.db.Collection(query.Collection)

	var cursor *mongo.Cursor
	if len(query.Pipeline) > 0 {
		cursor, err = coll.Aggregate(ctx, query.Pipeline)
	} else {
		filter := query.Filter
		if filter == nil {
			filter = map[string]any{}
		}
		opts := mongoopts.Find()
		if query.Limit > 0 {
			opts = opts.SetLimit(query.Limit)
		}
		cursor, err = coll.Find(ctx, filter, opts)
	}
	if err != nil {
		return nil, wrapDocumentError(err)
	}

	docs, truncated, err := readDocuments(ctx, cursor, maxRows)
	if err != nil {
		return nil, wrapDocumentError(err)
	}

	return &connection.QueryResult{
		Columns:   collectFields(docs),
		Rows:      docs,
		RowCount:  len(docs),
		Truncated: truncated,
		Elapsed:   time.Since(start),
	}, nil
}

// Ping は接続の疎通を確認する
func (c *DocumentConnector) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", connection.ErrConnectionFailed, err)
	}
	return nil
}

// Close は接続を閉じる
func (c *DocumentConnector) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// readDocuments はカーソルから文書を読み出す
// maxRowsを超える文書があればそこで打ち切り、truncatedを立てる
func readDocuments(ctx context.Context, cursor *mongo.Cursor, maxRows int) ([]map[string]any, bool, error) {
	defer cursor.Close(ctx)

	out := make([]map[string]any, 0)
	truncated := false
	for cursor.Next(ctx) {
		if maxRows > 0 && len(out) >= maxRows {
			truncated = true
			break
		}
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, false, err
		}
		out = append(out, normalizeDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, false, err
	}

	return out, truncated, nil
}

// normalizeDocument はBSON固有の型をJSONで扱える表現に揃える
func normalizeDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		out[key] = normalizeDocumentValue(value)
	}
	return out
}

func normalizeDocumentValue(value any) any {
	switch t := value.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339)
	case primitive.A:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = normalizeDocumentValue(item)
		}
		return items
	case bson.M:
		return normalizeDocument(t)
	case map[string]any:
		return normalizeDocument(t)
	default:
		return t
	}
}

// collectFields は結果文書に現れたフィールド名の和集合を返す
func collectFields(docs []map[string]any) []string {
	seen := make(map[string]struct{})
	for _, doc := range docs {
		for field := range doc {
			seen[field] = struct{}{}
		}
	}

	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	return fields
}

func wrapDocumentError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %v", connection.ErrExecutionTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &connection.QueryError{Message: err.Error(), Err: err}
}
