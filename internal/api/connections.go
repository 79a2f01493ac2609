package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/db-rag/internal/core/answer"
	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/indexing"
	"github.com/jinford/db-rag/internal/platform/metrics"
)

type createConnectionRequest struct {
	Name    string `json:"name"`
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
}

type connectionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dialect   string    `json:"dialect"`
	DSN       string    `json:"dsn"` // パスワード部は伏せられる
	CreatedAt time.Time `json:"created_at"`
}

func toConnectionResponse(conn *connection.Connection) connectionResponse {
	return connectionResponse{
		ID:        conn.ID.String(),
		Name:      conn.Name,
		Dialect:   conn.Dialect.String(),
		DSN:       conn.RedactedDSN(),
		CreatedAt: conn.CreatedAt,
	}
}

func handleCreateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return
	}

	dialect, err := connection.ParseDialect(req.Dialect)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_DIALECT", err.Error(), false, nil)
		return
	}

	conn, err := connection.NewConnection(req.Name, dialect, req.DSN)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		return
	}

	// 登録前にターゲットへの疎通を確認する
	connector, err := deps.Opener.Open(r.Context(), conn)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_FAILED", err.Error(), false, nil)
		return
	}
	_ = connector.Close(r.Context())

	if err := deps.Connections.Create(r.Context(), conn); err != nil {
		if errors.Is(err, connection.ErrAlreadyExists) {
			writeError(r.Context(), w, http.StatusConflict, "ALREADY_EXISTS", "a connection with this name already exists", false, map[string]any{"name": req.Name})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to store connection", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, toConnectionResponse(conn))
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	conns, err := deps.Connections.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to list connections", true, map[string]any{"details": err.Error()})
		return
	}

	payload := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		payload = append(payload, toConnectionResponse(conn))
	}

	writeJSON(w, http.StatusOK, map[string]any{"connections": payload})
}

type indexConnectionRequest struct {
	Samples *int `json:"samples"`
}

type indexConnectionResponse struct {
	Generation    string   `json:"generation"`
	TableCount    int      `json:"table_count"`
	ChunkCount    int      `json:"chunk_count"`
	SkippedTables []string `json:"skipped_tables,omitempty"`
	ElapsedMs     int64    `json:"elapsed_ms"`
}

func handleIndexConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	conn, err := deps.Connections.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection is not registered", false, map[string]any{"name": name})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}

	// ボディは省略可能
	var req indexConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid index request body", false, map[string]any{"details": err.Error()})
		return
	}

	params := indexing.ReindexParams{ConnectionID: conn.ID}
	if req.Samples != nil {
		params.SampleRows = mo.Some(*req.Samples)
	}

	result, err := deps.Indexer.Reindex(r.Context(), params)
	if err != nil {
		metrics.ObserveIndexRun("error", 0, 0)
		writeIndexError(w, r, err)
		return
	}

	metrics.ObserveIndexRun("ok", result.ChunkCount, result.Elapsed)
	writeJSON(w, http.StatusOK, indexConnectionResponse{
		Generation:    result.Generation.String(),
		TableCount:    result.TableCount,
		ChunkCount:    result.ChunkCount,
		SkippedTables: result.SkippedTables,
		ElapsedMs:     result.Elapsed.Milliseconds(),
	})
}

func writeIndexError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, answer.ErrProviderQuotaExceeded):
		writeError(r.Context(), w, http.StatusTooManyRequests, "PROVIDER_QUOTA_EXCEEDED", "embedding provider quota exceeded", true, map[string]any{"details": err.Error()})
	case errors.Is(err, answer.ErrProviderUnavailable):
		writeError(r.Context(), w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "embedding provider unavailable", true, map[string]any{"details": err.Error()})
	case errors.Is(err, connection.ErrConnectionFailed):
		writeError(r.Context(), w, http.StatusBadGateway, "CONNECTION_FAILED", "failed to reach the target database", true, map[string]any{"details": err.Error()})
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INDEXING_FAILED", "schema indexing failed", false, map[string]any{"details": err.Error()})
	}
}
