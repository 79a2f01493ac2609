package openai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jinford/db-rag/internal/core/answer"
)

// ThrottledClient は生成クライアントを1分あたりのリクエスト数で絞る
//
// 429を浴びてからバックオフするのではなく、呼び出し側で事前に流量を抑える。
// 並列呼び出しはウィンドウ容量まで許可される
type ThrottledClient struct {
	next answer.GenerationClient

	mu          sync.Mutex
	capacity    int       // 1分あたりの許可数
	remaining   int       // 現在のウィンドウの残数
	windowStart time.Time // 現在のウィンドウの開始時刻

	slots chan struct{} // 実行中リクエストの上限
}

// NewThrottledClient はレート制限付きの生成クライアントを作成する
func NewThrottledClient(next answer.GenerationClient, requestsPerMinute int) *ThrottledClient {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	return &ThrottledClient{
		next:        next,
		capacity:    requestsPerMinute,
		remaining:   requestsPerMinute,
		windowStart: time.Now(),
		slots:       make(chan struct{}, requestsPerMinute),
	}
}

// インターフェース実装の確認
var _ answer.GenerationClient = (*ThrottledClient)(nil)

// GenerateCompletion は流量の枠を確保してから下位クライアントを呼び出す
func (tc *ThrottledClient) GenerateCompletion(ctx context.Context, req answer.CompletionRequest) (*answer.CompletionResponse, error) {
	if err := tc.acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	defer tc.release()

	return tc.next.GenerateCompletion(ctx, req)
}

// acquire は実行枠と現在ウィンドウの残数を1つ確保する
// 残数が尽きている場合はウィンドウが進むまで待つ
func (tc *ThrottledClient) acquire(ctx context.Context) error {
	select {
	case tc.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		tc.mu.Lock()
		tc.rollWindow(time.Now())
		if tc.remaining > 0 {
			tc.remaining--
			tc.mu.Unlock()
			return nil
		}
		next := tc.windowStart.Add(time.Minute)
		tc.mu.Unlock()

		wait := time.Until(next)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-tc.slots
			return ctx.Err()
		}
	}
}

func (tc *ThrottledClient) release() {
	<-tc.slots
}

// rollWindow は経過した分だけウィンドウを進め、残数を容量まで戻す
// 呼び出し側がロックを保持していること
func (tc *ThrottledClient) rollWindow(now time.Time) {
	elapsed := now.Sub(tc.windowStart)
	if elapsed < time.Minute {
		return
	}
	minutes := elapsed / time.Minute
	tc.windowStart = tc.windowStart.Add(minutes * time.Minute)
	tc.remaining = tc.capacity
}

// Remaining は現在のウィンドウで許可される残りリクエスト数を返す
func (tc *ThrottledClient) Remaining() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.rollWindow(time.Now())
	return tc.remaining
}

// InFlight は実行中のリクエスト数を返す
func (tc *ThrottledClient) InFlight() int {
	return len(tc.slots)
}
