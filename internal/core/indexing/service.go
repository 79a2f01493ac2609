package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/samber/mo"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/pkg/tokens"
)

// テーブルごとに取り込むサンプル行数の上限
const maxSampleRows = 10

// ReindexParams はインデックス実行のパラメータを表す
type ReindexParams struct {
	ConnectionID uuid.UUID
	SampleRows   mo.Option[int] // 未指定ならサービスのデフォルト値
}

// IndexService はスキーマインデックス作成のビジネスロジックを提供する
type IndexService struct {
	connections connection.Repository
	opener      connection.ConnectorOpener
	embedder    Embedder
	repo        Repository
	counter     *tokens.Counter
	redactor    *Redactor
	matcher     *gitignore.GitIgnore
	sampleRows  int
	window      int
	overlap     int
	logger      *slog.Logger
}

type IndexServiceOption func(*IndexService)

// WithIndexLogger は IndexService にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexServiceOption {
	return func(s *IndexService) {
		s.logger = logger
	}
}

// WithIgnoreRules はインデックス対象から除外するテーブル名パターンを設定する
// パターンはgitignore形式で、改行区切りで複数指定できる
func WithIgnoreRules(rules string) IndexServiceOption {
	return func(s *IndexService) {
		lines := make([]string, 0)
		for _, line := range strings.Split(rules, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			s.matcher = gitignore.CompileIgnoreLines(lines...)
		}
	}
}

// WithSampleRows はテーブルごとのサンプル行数のデフォルト値を設定する
func WithSampleRows(n int) IndexServiceOption {
	return func(s *IndexService) {
		s.sampleRows = n
	}
}

// WithRedactor はサンプル行のマスク処理を設定する
func WithRedactor(r *Redactor) IndexServiceOption {
	return func(s *IndexService) {
		s.redactor = r
	}
}

// WithTokenCounter はチャンクのトークン数計測に使うカウンタを設定する
func WithTokenCounter(c *tokens.Counter) IndexServiceOption {
	return func(s *IndexService) {
		s.counter = c
	}
}

// NewIndexService は新しいIndexServiceを作成する
func NewIndexService(
	connections connection.Repository,
	opener connection.ConnectorOpener,
	embedder Embedder,
	repo Repository,
	opts ...IndexServiceOption,
) *IndexService {
	svc := &IndexService{
		connections: connections,
		opener:      opener,
		embedder:    embedder,
		repo:        repo,
		sampleRows:  5,
		window:      DefaultChunkWindow,
		overlap:     DefaultChunkOverlap,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Reindex は接続のスキーマを取得し、インデックスを丸ごと作り直す
// 埋め込みに失敗した場合はストアに一切触れないため、既存のインデックスは
// そのまま残り、一度もインデックスされていない接続は未インデックスのままになる
func (s *IndexService) Reindex(ctx context.Context, params ReindexParams) (*IndexResult, error) {
	started := time.Now()

	if params.ConnectionID == uuid.Nil {
		return nil, fmt.Errorf("connectionID is required")
	}

	conn, err := s.connections.GetByID(ctx, params.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	sampleRows := params.SampleRows.OrElse(s.sampleRows)
	if sampleRows < 0 {
		sampleRows = 0
	}
	if sampleRows > maxSampleRows {
		sampleRows = maxSampleRows
	}

	connector, err := s.opener.Open(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connector: %w", err)
	}
	defer connector.Close(ctx)

	snapshot, err := connector.Introspect(ctx, sampleRows)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect schema: %w", err)
	}

	tables, skipped := s.filterTables(snapshot.Tables)

	s.logger.Info("building schema chunks",
		"connection", conn.Name,
		"tables", len(tables),
		"skippedTables", len(skipped),
	)

	chunks := s.buildChunks(conn.ID, tables)

	if err := s.embedChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to embed schema chunks: %w", err)
	}

	state := IndexState{
		ConnectionID:     conn.ID,
		EmbedderIdentity: s.embedder.Metadata().Identity(),
		Generation:       uuid.New(),
		TableCount:       len(tables),
		ChunkCount:       len(chunks),
		IndexedAt:        time.Now(),
	}

	if err := s.repo.ReplaceIndex(ctx, state, chunks); err != nil {
		return nil, fmt.Errorf("failed to store index: %w", err)
	}

	elapsed := time.Since(started)
	s.logger.Info("index replaced",
		"connection", conn.Name,
		"generation", state.Generation.String(),
		"chunks", len(chunks),
		"elapsedMs", elapsed.Milliseconds(),
	)

	return &IndexResult{
		Generation:    state.Generation,
		TableCount:    len(tables),
		ChunkCount:    len(chunks),
		SkippedTables: skipped,
		Elapsed:       elapsed,
	}, nil
}

// filterTables は除外パターンに一致するテーブルを取り除く
func (s *IndexService) filterTables(tables []connection.TableSchema) ([]connection.TableSchema, []string) {
	if s.matcher == nil {
		return tables, nil
	}

	kept := make([]connection.TableSchema, 0, len(tables))
	var skipped []string
	for _, table := range tables {
		if s.matcher.MatchesPath(table.Name) {
			skipped = append(skipped, table.Name)
			continue
		}
		kept = append(kept, table)
	}
	return kept, skipped
}

// buildChunks はテーブルごとにスキーマチャンクとサンプルチャンクを生成する
func (s *IndexService) buildChunks(connectionID uuid.UUID, tables []connection.TableSchema) []Chunk {
	var chunks []Chunk

	appendChunks := func(tableName string, kind ChunkKind, text string) {
		if text == "" {
			return
		}
		for _, part := range SplitText(text, s.window, s.overlap) {
			chunks = append(chunks, Chunk{
				ID:           uuid.New(),
				ConnectionID: connectionID,
				TableName:    tableName,
				Kind:         kind,
				Content:      part,
				TokenCount:   s.counter.Count(part),
			})
		}
	}

	for _, table := range tables {
		appendChunks(table.Name, ChunkKindSchema, RenderTableSchema(table))
		appendChunks(table.Name, ChunkKindSample, RenderSampleRows(table, s.redactor))
	}

	return chunks
}

// embedChunks はチャンクをバッチで埋め込みベクトルに変換する
func (s *IndexService) embedChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batchSize := s.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = 100
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Content)
		}

		vectors, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}

		for i := range vectors {
			chunks[start+i].Embedding = vectors[i]
		}
	}

	return nil
}
