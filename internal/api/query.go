package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/samber/mo"

	"github.com/jinford/db-rag/internal/core/answer"
	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/retrieval"
	"github.com/jinford/db-rag/internal/platform/metrics"
)

type queryRequest struct {
	Connection  string  `json:"connection"`
	Question    string  `json:"question"`
	AutoExecute *bool   `json:"auto_execute"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
}

type verdictPayload struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
	Capped bool   `json:"capped,omitempty"`
}

type queryResponse struct {
	Answer         string           `json:"answer"`
	GeneratedQuery string           `json:"generated_query,omitempty"`
	Verdict        *verdictPayload  `json:"verdict,omitempty"`
	Attempts       int              `json:"attempts,omitempty"`
	AutoExecuted   bool             `json:"auto_executed"`
	Columns        []string         `json:"columns,omitempty"`
	Results        []map[string]any `json:"results,omitempty"`
	RowCount       *int             `json:"row_count,omitempty"`
	Truncated      *bool            `json:"truncated,omitempty"`
	SkippedReason  string           `json:"skipped_reason,omitempty"`
	ElapsedMs      int64            `json:"elapsed_ms"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if strings.TrimSpace(req.Connection) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_REQUIRED", "connection is required", false, nil)
		return
	}

	conn, err := deps.Connections.GetByName(r.Context(), req.Connection)
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection is not registered", false, map[string]any{"name": req.Connection})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}

	params := answer.AnswerParams{
		ConnectionID: conn.ID,
		Question:     req.Question,
		TopK:         req.TopK,
		Generation: answer.GenerationConfig{
			Model:       req.Model,
			Temperature: req.Temperature,
		},
	}
	if req.AutoExecute != nil {
		params.AutoExecute = mo.Some(*req.AutoExecute)
	}

	ans, err := deps.Answerer.Answer(r.Context(), params)
	if err != nil {
		writeAnswerError(w, r, err)
		return
	}

	observeAnswer(conn.Dialect.String(), ans)
	writeJSON(w, http.StatusOK, toQueryResponse(ans))
}

func toQueryResponse(ans *answer.Answer) queryResponse {
	resp := queryResponse{
		Answer:        ans.Text,
		SkippedReason: ans.SkippedReason,
		ElapsedMs:     ans.Elapsed.Milliseconds(),
	}

	if generated, ok := ans.Query.Get(); ok {
		resp.Attempts = generated.Attempts
		resp.Verdict = &verdictPayload{
			Safe:   generated.Verdict.Safe,
			Reason: generated.Verdict.Reason,
			Capped: generated.Verdict.Capped,
		}
		if generated.Verdict.Safe {
			resp.GeneratedQuery = generated.Statement
		} else {
			resp.GeneratedQuery = generated.Raw
		}
	}

	if result, ok := ans.Execution.Get(); ok {
		resp.AutoExecuted = true
		resp.Columns = result.Columns
		resp.Results = result.Rows
		resp.RowCount = &result.RowCount
		resp.Truncated = &result.Truncated
	}

	return resp
}

// observeAnswer は回答メタデータからドメインメトリクスを記録する
func observeAnswer(dialect string, ans *answer.Answer) {
	attempts := 0
	generated, hasQuery := ans.Query.Get()
	if hasQuery {
		attempts = generated.Attempts
	}
	metrics.ObserveQuestion(dialect, attempts)

	if hasQuery && !generated.Verdict.Safe {
		metrics.IncrementUnsafeQuery()
	}

	if result, ok := ans.Execution.Get(); ok {
		metrics.ObserveExecution("ok", result.Elapsed)
		return
	}
	// 安全なクエリがあり、実行が見送られたわけでもないのに結果がない場合は実行失敗
	if hasQuery && generated.Verdict.Safe && ans.SkippedReason != answer.SkipReasonNotRequested {
		metrics.ObserveExecution("error", 0)
	}
}

func writeAnswerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, retrieval.ErrNotIndexed):
		writeError(r.Context(), w, http.StatusConflict, "NOT_INDEXED", "connection has no schema index yet; run indexing first", false, map[string]any{"details": err.Error()})
	case errors.Is(err, retrieval.ErrEmbedderMismatch):
		writeError(r.Context(), w, http.StatusConflict, "EMBEDDER_MISMATCH", "schema index was built with a different embedding configuration; re-index the connection", false, map[string]any{"details": err.Error()})
	case errors.Is(err, answer.ErrProviderQuotaExceeded):
		writeError(r.Context(), w, http.StatusTooManyRequests, "PROVIDER_QUOTA_EXCEEDED", "generation provider quota exceeded", true, map[string]any{"details": err.Error()})
	case errors.Is(err, answer.ErrProviderUnavailable):
		writeError(r.Context(), w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "generation provider unavailable", true, map[string]any{"details": err.Error()})
	case errors.Is(err, connection.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection is not registered", false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "ANSWER_FAILED", "failed to answer the question", false, map[string]any{"details": err.Error()})
	}
}
