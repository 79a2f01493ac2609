// Package api はエンジンのHTTPインターフェースを提供する
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/db-rag/internal/core/answer"
	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/indexing"
)

// Indexer はスキーマインデックス作成の操作インターフェース
type Indexer interface {
	Reindex(ctx context.Context, params indexing.ReindexParams) (*indexing.IndexResult, error)
}

// Answerer は質問応答の操作インターフェース
type Answerer interface {
	Answer(ctx context.Context, params answer.AnswerParams) (*answer.Answer, error)
}

// Dependencies はハンドラが依存するサービス群
type Dependencies struct {
	Logger      *slog.Logger
	Connections connection.Repository
	Opener      connection.ConnectorOpener
	Indexer     Indexer
	Answerer    Answerer

	// APIToken が空でない場合、接続管理とクエリのルートにBearer認証がかかる
	APIToken string
}

// NewHandler はAPIのルーティングとミドルウェアを組み立てる
func NewHandler(deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "db-rag"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleCreateConnection(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections/{name}/index", func(w http.ResponseWriter, r *http.Request) {
		handleIndexConnection(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if deps.APIToken != "" {
		protectedHandler = BearerAuth(deps.APIToken, deps.Logger)(protected)
	}
	mux.Handle("POST /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections", protectedHandler)
	mux.Handle("POST /v1/connections/{name}/index", protectedHandler)
	mux.Handle("POST /v1/query", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		TraceMiddleware,
		MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}
