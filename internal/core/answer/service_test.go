package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/indexing"
	"github.com/jinford/db-rag/internal/core/retrieval"
)

type stubConnectionStore struct {
	conn *connection.Connection
}

func (r *stubConnectionStore) Create(ctx context.Context, conn *connection.Connection) error {
	return nil
}

func (r *stubConnectionStore) GetByID(ctx context.Context, id uuid.UUID) (*connection.Connection, error) {
	if r.conn == nil || r.conn.ID != id {
		return nil, connection.ErrNotFound
	}
	return r.conn, nil
}

func (r *stubConnectionStore) GetByName(ctx context.Context, name string) (*connection.Connection, error) {
	return nil, connection.ErrNotFound
}

func (r *stubConnectionStore) List(ctx context.Context) ([]*connection.Connection, error) {
	return nil, nil
}

func (r *stubConnectionStore) Delete(ctx context.Context, id uuid.UUID) error {
	return nil
}

type stubIndexStates struct {
	state *indexing.IndexState
}

func (s *stubIndexStates) GetIndexState(ctx context.Context, connectionID uuid.UUID) (*indexing.IndexState, error) {
	return s.state, nil
}

type stubChunkSearch struct {
	results []*retrieval.ScoredChunk
}

func (r *stubChunkSearch) SearchChunks(ctx context.Context, connectionID, generation uuid.UUID, queryVector []float32, limit int) ([]*retrieval.ScoredChunk, error) {
	return r.results, nil
}

type stubAnswerEmbedder struct{}

func (e *stubAnswerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (e *stubAnswerEmbedder) Metadata() indexing.EmbedderMetadata {
	return indexing.EmbedderMetadata{Provider: "test", Model: "stub-embedding", Dimension: 3}
}

// scriptedLLM は呼び出し順に応答を返し、受け取ったプロンプトを記録する
type scriptedLLM struct {
	responses []string
	errs      []error
	prompts   []string
}

func (l *scriptedLLM) GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	i := len(l.prompts)
	l.prompts = append(l.prompts, req.Prompt)
	if i < len(l.errs) && l.errs[i] != nil {
		return nil, l.errs[i]
	}
	text := ""
	if i < len(l.responses) {
		text = l.responses[i]
	} else if len(l.responses) > 0 {
		text = l.responses[len(l.responses)-1]
	}
	return &CompletionResponse{Text: text, Model: "stub-model"}, nil
}

type recordingConnector struct {
	result *connection.QueryResult

	err           error
	called        bool
	closed        bool
	hadDeadline   bool
	lastStatement string
	lastMaxRows   int
}

func (c *recordingConnector) Introspect(ctx context.Context, sampleRows int) (*connection.SchemaSnapshot, error) {
	return nil, errors.New("not implemented")
}

func (c *recordingConnector) Execute(ctx context.Context, statement string, maxRows int) (*connection.QueryResult, error) {
	c.called = true
	c.lastStatement = statement
	c.lastMaxRows = maxRows
	_, c.hadDeadline = ctx.Deadline()
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *recordingConnector) Ping(ctx context.Context) error { return nil }

func (c *recordingConnector) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

type recordingOpener struct {
	connector *recordingConnector
}

func (o *recordingOpener) Open(ctx context.Context, conn *connection.Connection) (connection.Connector, error) {
	return o.connector, nil
}

func answerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoUserRows() *connection.QueryResult {
	return &connection.QueryResult{
		Columns: []string{"id", "email"},
		Rows: []map[string]any{
			{"id": int64(1), "email": "a@example.com"},
			{"id": int64(2), "email": "b@example.com"},
		},
		RowCount: 2,
		Elapsed:  10 * time.Millisecond,
	}
}

type answerFixture struct {
	service   *AnswerService
	conn      *connection.Connection
	llm       *scriptedLLM
	connector *recordingConnector
}

func newAnswerFixture(t *testing.T, dialect connection.Dialect, llm *scriptedLLM, connector *recordingConnector, opts ...AnswerServiceOption) *answerFixture {
	t.Helper()

	conn, err := connection.NewConnection("shop", dialect, "host=localhost dbname=shop")
	require.NoError(t, err)

	retrievalSvc := retrieval.NewRetrievalService(
		&stubIndexStates{state: &indexing.IndexState{
			ConnectionID:     conn.ID,
			EmbedderIdentity: "test/stub-embedding/3",
			Generation:       uuid.New(),
			TableCount:       1,
			ChunkCount:       1,
			IndexedAt:        time.Now(),
		}},
		&stubChunkSearch{results: []*retrieval.ScoredChunk{{
			ChunkID:   uuid.New(),
			TableName: "users",
			Kind:      "schema",
			Content:   "Table: users\nColumns:\n  - id (integer) [PK]\n  - email (varchar)",
			Score:     0.91,
		}}},
		&stubAnswerEmbedder{},
		retrieval.WithRetrievalLogger(answerTestLogger()),
	)

	opts = append([]AnswerServiceOption{WithAnswerLogger(answerTestLogger())}, opts...)
	svc := NewAnswerService(
		&stubConnectionStore{conn: conn},
		retrievalSvc,
		llm,
		&recordingOpener{connector: connector},
		opts...,
	)

	return &answerFixture{service: svc, conn: conn, llm: llm, connector: connector}
}

func TestAnswerService_AnswerAutoExecutesAndSynthesizes(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```sql\nSELECT * FROM users\n```",
		"There are 2 users: a@example.com and b@example.com.",
	}}
	connector := &recordingConnector{result: twoUserRows()}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

	answer, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.NoError(t, err)

	assert.Equal(t, "There are 2 users: a@example.com and b@example.com.", answer.Text)
	assert.Empty(t, answer.SkippedReason)

	// 行数上限が注入された文がそのまま実行される
	generated := answer.Query.MustGet()
	assert.Equal(t, "SELECT * FROM users LIMIT 100", generated.Statement)
	assert.True(t, generated.Verdict.Capped)
	assert.Equal(t, 1, generated.Attempts)

	require.True(t, connector.called)
	assert.Equal(t, "SELECT * FROM users LIMIT 100", connector.lastStatement)
	assert.Equal(t, 100, connector.lastMaxRows)
	assert.True(t, connector.hadDeadline)
	assert.True(t, connector.closed)

	execution := answer.Execution.MustGet()
	assert.Equal(t, 2, execution.RowCount)

	// 合成プロンプトには実行した文と取得行が載る
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[1], "SELECT * FROM users LIMIT 100")
	assert.Contains(t, llm.prompts[1], `"email":"a@example.com"`)
}

func TestAnswerService_AnswerRejectsUnsafeAndNeverExecutes(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"```sql\nDROP TABLE users; -- cleanup\n```"}}
	connector := &recordingConnector{result: twoUserRows()}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

	answer, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.NoError(t, err)

	// 全試行が拒否され、実行には一切到達しない
	assert.False(t, connector.called)
	assert.Contains(t, answer.SkippedReason, "unsafe:")
	assert.Contains(t, answer.SkippedReason, "DROP")
	assert.True(t, answer.Execution.IsAbsent())

	generated := answer.Query.MustGet()
	assert.False(t, generated.Verdict.Safe)
	assert.Equal(t, 3, generated.Attempts)
	assert.Empty(t, generated.Statement)

	// 修復プロンプトに直前の候補と拒否理由が載る
	require.Len(t, llm.prompts, 3)
	assert.Contains(t, llm.prompts[1], "DROP TABLE users;")
	assert.Contains(t, llm.prompts[1], "拒否理由")
}

func TestAnswerService_AnswerRepairLoopRecovers(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```sql\nDELETE FROM users WHERE id = 1\n```",
		"```sql\nSELECT * FROM users LIMIT 10\n```",
		"Two users are registered.",
	}}
	connector := &recordingConnector{result: twoUserRows()}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

	answer, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.NoError(t, err)

	generated := answer.Query.MustGet()
	assert.True(t, generated.Verdict.Safe)
	assert.Equal(t, 2, generated.Attempts)
	assert.Equal(t, "SELECT * FROM users LIMIT 10", generated.Statement)
	assert.True(t, connector.called)

	// 2回目のプロンプトは修復用で、拒否された候補を含む
	assert.Contains(t, llm.prompts[1], "DELETE FROM users WHERE id = 1")
}

func TestAnswerService_AnswerNoQueryInOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"The schema does not contain enough information to answer that.",
	}}
	connector := &recordingConnector{}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

	answer, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.NoError(t, err)

	// 候補がない時点で打ち切り、説明文をそのまま回答にする
	assert.Equal(t, "The schema does not contain enough information to answer that.", answer.Text)
	assert.Equal(t, "no query in model output", answer.SkippedReason)
	assert.True(t, answer.Query.IsAbsent())
	assert.Len(t, llm.prompts, 1)
	assert.False(t, connector.called)
}

func TestAnswerService_AnswerExecutionNotRequested(t *testing.T) {
	t.Run("質問文に取得意図がない", func(t *testing.T) {
		llm := &scriptedLLM{responses: []string{"```sql\nSELECT * FROM users\n```"}}
		connector := &recordingConnector{result: twoUserRows()}
		fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

		answer, err := fx.service.Answer(context.Background(), AnswerParams{
			ConnectionID: fx.conn.ID,
			Question:     "Which table holds user emails?",
		})
		require.NoError(t, err)

		assert.Equal(t, "execution not requested", answer.SkippedReason)
		assert.False(t, connector.called)
		assert.True(t, answer.Query.IsPresent())
		assert.True(t, answer.Execution.IsAbsent())
		assert.Len(t, llm.prompts, 1)
	})

	t.Run("明示的な指定はヒューリスティクスより優先される", func(t *testing.T) {
		llm := &scriptedLLM{responses: []string{"```sql\nSELECT * FROM users\n```"}}
		connector := &recordingConnector{result: twoUserRows()}
		fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

		answer, err := fx.service.Answer(context.Background(), AnswerParams{
			ConnectionID: fx.conn.ID,
			Question:     "Show me all users",
			AutoExecute:  mo.Some(false),
		})
		require.NoError(t, err)

		assert.Equal(t, "execution not requested", answer.SkippedReason)
		assert.False(t, connector.called)
	})
}

func TestAnswerService_AnswerExecutionFailures(t *testing.T) {
	tests := []struct {
		name       string
		execErr    error
		wantReason string
	}{
		{
			name:       "タイムアウト",
			execErr:    connection.ErrExecutionTimeout,
			wantReason: "execution timeout",
		},
		{
			name:       "ドライバのエラーメッセージは素通しする",
			execErr:    &connection.QueryError{Message: `relation "userz" does not exist`},
			wantReason: `relation "userz" does not exist`,
		},
		{
			name:       "接続失敗",
			execErr:    connection.ErrConnectionFailed,
			wantReason: "could not connect to the target database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{responses: []string{"```sql\nSELECT * FROM users\n```"}}
			connector := &recordingConnector{err: tt.execErr}
			fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

			answer, err := fx.service.Answer(context.Background(), AnswerParams{
				ConnectionID: fx.conn.ID,
				Question:     "Show me all users",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantReason, answer.SkippedReason)
			assert.True(t, answer.Execution.IsAbsent())
			assert.True(t, answer.Query.IsPresent())

			// 実行失敗は自動リトライされず、合成呼び出しも行われない
			assert.Len(t, llm.prompts, 1)
		})
	}
}

func TestAnswerService_AnswerSynthesisFallback(t *testing.T) {
	llm := &scriptedLLM{
		responses: []string{"```sql\nSELECT * FROM users\n```", ""},
		errs:      []error{nil, ErrProviderUnavailable},
	}
	connector := &recordingConnector{result: twoUserRows()}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

	answer, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.NoError(t, err)

	// 合成に失敗しても取得済みデータと決定的な要約は返る
	assert.Contains(t, answer.Text, "The query returned 2 rows")
	assert.Contains(t, answer.Text, `"email":"a@example.com"`)
	assert.Contains(t, answer.SkippedReason, "answer synthesis failed")
	assert.True(t, answer.Execution.IsPresent())
}

func TestAnswerService_AnswerDocumentDialect(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```json\n{\"collection\": \"users\", \"filter\": {}}\n```",
		"All 2 users are active.",
	}}
	connector := &recordingConnector{result: twoUserRows()}
	fx := newAnswerFixture(t, connection.DialectMongoDB, llm, connector)

	answer, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "List all users",
	})
	require.NoError(t, err)

	generated := answer.Query.MustGet()
	assert.True(t, generated.Verdict.Safe)
	assert.True(t, generated.Verdict.Capped)
	assert.Contains(t, connector.lastStatement, `"limit":100`)
	assert.Contains(t, llm.prompts[0], "MongoDB")
	assert.Equal(t, "All 2 users are active.", answer.Text)
}

func TestAnswerService_AnswerNotIndexed(t *testing.T) {
	conn, err := connection.NewConnection("shop", connection.DialectPostgres, "host=localhost dbname=shop")
	require.NoError(t, err)

	retrievalSvc := retrieval.NewRetrievalService(
		&stubIndexStates{state: nil},
		&stubChunkSearch{},
		&stubAnswerEmbedder{},
		retrieval.WithRetrievalLogger(answerTestLogger()),
	)
	svc := NewAnswerService(
		&stubConnectionStore{conn: conn},
		retrievalSvc,
		&scriptedLLM{},
		&recordingOpener{connector: &recordingConnector{}},
		WithAnswerLogger(answerTestLogger()),
	)

	_, err = svc.Answer(context.Background(), AnswerParams{
		ConnectionID: conn.ID,
		Question:     "Show me all users",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieval.ErrNotIndexed)
}

func TestAnswerService_AnswerProviderFailureSurfaces(t *testing.T) {
	llm := &scriptedLLM{errs: []error{ErrProviderQuotaExceeded}, responses: []string{""}}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, &recordingConnector{})

	_, err := fx.service.Answer(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderQuotaExceeded)
}

func TestAnswerService_GenerateQueryNeverExecutes(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"```sql\nSELECT * FROM users\n```"}}
	connector := &recordingConnector{result: twoUserRows()}
	fx := newAnswerFixture(t, connection.DialectPostgres, llm, connector)

	generated, err := fx.service.GenerateQuery(context.Background(), AnswerParams{
		ConnectionID: fx.conn.ID,
		Question:     "Show me all users",
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM users LIMIT 100", generated.Statement)
	assert.False(t, connector.called)
}

func TestShouldAutoExecute(t *testing.T) {
	tests := []struct {
		question string
		want     bool
	}{
		{"Show me all users", true},
		{"How many orders were placed today?", true},
		{"list the top customers", true},
		{"ユーザーの一覧を見せて", true},
		{"Why is the orders table designed this way?", false},
		{"Which column stores the shipping address?", false},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldAutoExecute(tt.question))
		})
	}
}
