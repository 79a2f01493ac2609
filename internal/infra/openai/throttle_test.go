package openai

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/db-rag/internal/core/answer"
)

// mockGenerationClient は関数フィールドで挙動を差し替えられる生成クライアント
type mockGenerationClient struct {
	GenerateCompletionFunc func(ctx context.Context, req answer.CompletionRequest) (*answer.CompletionResponse, error)
}

func (m *mockGenerationClient) GenerateCompletion(ctx context.Context, req answer.CompletionRequest) (*answer.CompletionResponse, error) {
	return m.GenerateCompletionFunc(ctx, req)
}

func newCountingClient(calls *int, mu *sync.Mutex) *mockGenerationClient {
	return &mockGenerationClient{
		GenerateCompletionFunc: func(ctx context.Context, req answer.CompletionRequest) (*answer.CompletionResponse, error) {
			mu.Lock()
			*calls++
			mu.Unlock()
			return &answer.CompletionResponse{Text: "test response", Model: "mock-model"}, nil
		},
	}
}

func TestThrottledClient_PassesThrough(t *testing.T) {
	var (
		calls int
		mu    sync.Mutex
	)
	throttled := NewThrottledClient(newCountingClient(&calls, &mu), 10)

	resp, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{
		Prompt:      "test prompt",
		Temperature: 0.3,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	assert.Equal(t, 9, throttled.Remaining())
	assert.Equal(t, 0, throttled.InFlight())
}

func TestThrottledClient_ConsumesWindowBudget(t *testing.T) {
	var (
		calls int
		mu    sync.Mutex
	)
	throttled := NewThrottledClient(newCountingClient(&calls, &mu), 5)

	for i := 0; i < 5; i++ {
		_, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{Prompt: "test"})
		require.NoError(t, err)
	}

	mu.Lock()
	assert.Equal(t, 5, calls)
	mu.Unlock()
	assert.Equal(t, 0, throttled.Remaining())
}

func TestThrottledClient_ExhaustedBudgetTimesOut(t *testing.T) {
	var (
		calls int
		mu    sync.Mutex
	)
	throttled := NewThrottledClient(newCountingClient(&calls, &mu), 1)

	_, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{Prompt: "test"})
	require.NoError(t, err)

	// 枠を使い切った後はウィンドウが進むまでブロックする
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = throttled.GenerateCompletion(ctx, answer.CompletionRequest{Prompt: "test2"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "rate limiter wait failed")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestThrottledClient_CanceledContext(t *testing.T) {
	var (
		calls int
		mu    sync.Mutex
	)
	throttled := NewThrottledClient(newCountingClient(&calls, &mu), 1)

	_, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{Prompt: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = throttled.GenerateCompletion(ctx, answer.CompletionRequest{Prompt: "test2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestThrottledClient_WindowRolls(t *testing.T) {
	var (
		calls int
		mu    sync.Mutex
	)
	throttled := NewThrottledClient(newCountingClient(&calls, &mu), 2)

	for i := 0; i < 2; i++ {
		_, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{Prompt: "test"})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, throttled.Remaining())

	// ウィンドウ開始時刻を巻き戻して1分超の経過を再現する
	throttled.mu.Lock()
	throttled.windowStart = time.Now().Add(-61 * time.Second)
	throttled.mu.Unlock()

	assert.Equal(t, 2, throttled.Remaining())

	_, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{Prompt: "test3"})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestThrottledClient_ConcurrentCallsWithinBudget(t *testing.T) {
	var (
		calls int
		mu    sync.Mutex
	)
	throttled := NewThrottledClient(newCountingClient(&calls, &mu), 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := throttled.GenerateCompletion(context.Background(), answer.CompletionRequest{Prompt: "test"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 10, calls)
	mu.Unlock()
	assert.Equal(t, 0, throttled.Remaining())
}
