// Package container はエンジン全体の依存関係を組み立てる。
package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/db-rag/internal/core/answer"
	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/indexing"
	"github.com/jinford/db-rag/internal/core/retrieval"
	"github.com/jinford/db-rag/internal/infra/connector"
	"github.com/jinford/db-rag/internal/infra/openai"
	"github.com/jinford/db-rag/internal/infra/postgres"
	"github.com/jinford/db-rag/pkg/config"
	"github.com/jinford/db-rag/pkg/db"
	"github.com/jinford/db-rag/pkg/tokens"
)

// ServiceContainer は全サービスと共有リソースを保持する
type ServiceContainer struct {
	Connections   connection.Repository
	Opener        connection.ConnectorOpener
	IndexService  *indexing.IndexService
	RetrievalSvc  *retrieval.RetrievalService
	AnswerService *answer.AnswerService

	// OpenAIClient はモデル一覧取得などの管理操作に使う。
	// カスタムLLMクライアントを注入した場合はnil
	OpenAIClient *openai.Client

	logger   *slog.Logger
	database *db.DB
}

type containerOptions struct {
	logger   *slog.Logger
	embedder indexing.Embedder
	llm      answer.GenerationClient
	opener   connection.ConnectorOpener
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder indexing.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLM はカスタム LLM クライアントを注入する
func WithContainerLLM(client answer.GenerationClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llm = client
	}
}

// WithContainerOpener はターゲットDBコネクタのオープナーを差し替える
func WithContainerOpener(opener connection.ConnectorOpener) ContainerOption {
	return func(opts *containerOptions) {
		opts.opener = opener
	}
}

// NewContainer は設定からコンテナを生成する。
// メタデータストアへ接続し、スキーマの初期化まで行う
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, database.Pool, cfg.OpenAI.EmbeddingDimension); err != nil {
		database.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(cfg, database, opts...)
	if err != nil {
		database.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存のDB接続を受け取りコンテナを生成する。
// スキーマの初期化は呼び出し側の責務とする
func NewContainerWithDB(cfg *config.Config, database *db.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		openaiEmbedder, err := openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
		if err != nil {
			return nil, fmt.Errorf("Embedder 初期化に失敗しました: %w", err)
		}
		embedder = openaiEmbedder
	}

	// LLMクライアント (OpenAI)
	llm := options.llm
	var openaiClient *openai.Client
	if llm == nil {
		client, err := openai.NewClient(
			cfg.OpenAI.APIKey,
			openai.WithModel(cfg.OpenAI.LLMModel),
			openai.WithTemperature(cfg.OpenAI.LLMTemperature),
			openai.WithMaxTokens(cfg.OpenAI.LLMMaxTokens),
		)
		if err != nil {
			return nil, fmt.Errorf("OpenAI クライアント初期化に失敗しました: %w", err)
		}
		openaiClient = client
		llm = client
		if cfg.OpenAI.RequestsPerMinute > 0 {
			llm = openai.NewThrottledClient(client, cfg.OpenAI.RequestsPerMinute)
		}
	}

	// ターゲットDBコネクタ
	opener := options.opener
	if opener == nil {
		opener = connector.NewRegistry()
	}

	// トークンカウンタ（プロンプト予算の管理用）
	counter, err := tokens.NewCounter()
	if err != nil {
		return nil, fmt.Errorf("TokenCounter 初期化に失敗しました: %w", err)
	}

	// Repository (PostgreSQL + pgvector)
	connRepo := postgres.NewConnectionRepository(database.Pool)
	indexRepo := postgres.NewIndexRepository(database.Pool)

	// IndexService
	indexService := indexing.NewIndexService(
		connRepo,
		opener,
		embedder,
		indexRepo,
		indexing.WithIndexLogger(options.logger),
		indexing.WithSampleRows(cfg.Index.SampleRows),
		indexing.WithIgnoreRules(cfg.Index.IgnoreRules),
		indexing.WithRedactor(indexing.NewRedactor(cfg.Index.RedactSamples)),
		indexing.WithTokenCounter(counter),
	)

	// RetrievalService（状態参照と検索はどちらもインデックスリポジトリが担う）
	retrievalSvc := retrieval.NewRetrievalService(
		indexRepo,
		indexRepo,
		embedder,
		retrieval.WithRetrievalLogger(options.logger),
	)

	// AnswerService
	answerService := answer.NewAnswerService(
		connRepo,
		retrievalSvc,
		llm,
		opener,
		answer.WithAnswerLogger(options.logger),
		answer.WithMaxResultRows(cfg.Query.MaxResultRows),
		answer.WithMaxAttempts(cfg.Query.MaxAttempts),
		answer.WithExecutionTimeout(time.Duration(cfg.Query.ExecutionTimeoutSec)*time.Second),
		answer.WithContextTokenBudget(cfg.Query.ContextTokenBudget),
		answer.WithAnswerTokenCounter(counter),
	)

	return &ServiceContainer{
		Connections:   connRepo,
		Opener:        opener,
		IndexService:  indexService,
		RetrievalSvc:  retrievalSvc,
		AnswerService: answerService,
		OpenAIClient:  openaiClient,
		logger:        options.logger,
		database:      database,
	}, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はメタデータストアへの接続を返す。
func (c *ServiceContainer) Database() *db.DB {
	if c == nil {
		return nil
	}
	return c.database
}
