package answer

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/retrieval"
)

func schemaChunk(table, content string, score float64) *retrieval.ScoredChunk {
	return &retrieval.ScoredChunk{
		ChunkID:   uuid.New(),
		TableName: table,
		Kind:      "schema",
		Content:   content,
		Score:     score,
	}
}

func TestBuildQueryPrompt_SQL(t *testing.T) {
	prompt := BuildQueryPrompt(QueryPromptParams{
		Question: "How many users signed up last week?",
		Dialect:  connection.DialectPostgres,
		Chunks: []*retrieval.ScoredChunk{
			schemaChunk("users", "Table: users\nColumns:\n  - id (integer) [PK]\n  - created_at (timestamp)", 0.91),
		},
	})

	assert.Contains(t, prompt, "PostgreSQL")
	assert.Contains(t, prompt, "Table: users")
	assert.Contains(t, prompt, "How many users signed up last week?")
	assert.Contains(t, prompt, "SELECT * FROM users LIMIT 100;")
	assert.Contains(t, prompt, "```sql")
	assert.Contains(t, prompt, "LIMIT 100")

	// 修復セクションは初回プロンプトには現れない
	assert.NotContains(t, prompt, "拒否理由")
}

func TestBuildQueryPrompt_Document(t *testing.T) {
	prompt := BuildQueryPrompt(QueryPromptParams{
		Question: "List all orders",
		Dialect:  connection.DialectMongoDB,
		Chunks: []*retrieval.ScoredChunk{
			schemaChunk("orders", "Collection: orders\nFields:\n  - _id\n  - total", 0.88),
		},
	})

	assert.Contains(t, prompt, "MongoDB")
	assert.Contains(t, prompt, `{"collection": "users", "filter": {}, "limit": 100}`)
	assert.Contains(t, prompt, "```json")
	assert.NotContains(t, prompt, "```sql")
}

func TestBuildQueryPrompt_RepairSection(t *testing.T) {
	prompt := BuildQueryPrompt(QueryPromptParams{
		Question:          "Show me all users",
		Dialect:           connection.DialectPostgres,
		PreviousCandidate: "DELETE FROM users",
		RejectionReason:   `statement contains denied keyword "DELETE"`,
	})

	assert.Contains(t, prompt, "DELETE FROM users")
	assert.Contains(t, prompt, `denied keyword "DELETE"`)
	assert.Contains(t, prompt, "拒否理由")
}

func TestBuildQueryPrompt_TokenBudgetDropsLowestRelevance(t *testing.T) {
	// カウンタなしでは1トークン≒3文字の概算が使われる
	high := schemaChunk("users", strings.Repeat("u", 30), 0.95) // 約10トークン
	low := schemaChunk("orders", strings.Repeat("o", 30), 0.42) // 約10トークン

	prompt := BuildQueryPrompt(QueryPromptParams{
		Question:           "Show me all users",
		Dialect:            connection.DialectPostgres,
		Chunks:             []*retrieval.ScoredChunk{high, low},
		ContextTokenBudget: 12,
	})

	assert.Contains(t, prompt, high.Content)
	assert.NotContains(t, prompt, low.Content)

	// 予算なしなら両方載る
	unbounded := BuildQueryPrompt(QueryPromptParams{
		Question: "Show me all users",
		Dialect:  connection.DialectPostgres,
		Chunks:   []*retrieval.ScoredChunk{high, low},
	})
	assert.Contains(t, unbounded, high.Content)
	assert.Contains(t, unbounded, low.Content)
}

func TestBuildSynthesisPrompt(t *testing.T) {
	result := &connection.QueryResult{
		Columns: []string{"id", "email"},
		Rows: []map[string]any{
			{"id": int64(1), "email": "a@example.com"},
			{"id": int64(2), "email": "b@example.com"},
		},
		RowCount: 2,
		Elapsed:  5 * time.Millisecond,
	}

	prompt := BuildSynthesisPrompt(SynthesisPromptParams{
		Question:  "How many users are there?",
		Statement: "SELECT * FROM users LIMIT 100",
		Result:    result,
	})

	assert.Contains(t, prompt, "SELECT * FROM users LIMIT 100")
	assert.Contains(t, prompt, "全2行")
	assert.Contains(t, prompt, `"email":"a@example.com"`)
	assert.Contains(t, prompt, "How many users are there?")
}

func TestBuildSynthesisPrompt_TruncatedAndCappedRows(t *testing.T) {
	rows := make([]map[string]any, 30)
	for i := range rows {
		rows[i] = map[string]any{"id": int64(i)}
	}
	result := &connection.QueryResult{
		Columns:   []string{"id"},
		Rows:      rows,
		RowCount:  30,
		Truncated: true,
	}

	prompt := BuildSynthesisPrompt(SynthesisPromptParams{
		Question:  "List everything",
		Statement: "SELECT id FROM events LIMIT 100",
		Result:    result,
	})

	assert.Contains(t, prompt, "切り詰め")
	assert.Contains(t, prompt, "先頭20行")
	assert.Contains(t, prompt, `{"id":19}`)
	assert.NotContains(t, prompt, `{"id":20}`)
}
