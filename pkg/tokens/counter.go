package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Counter はトークン数の計測とトークン長でのトリミングを提供します
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は新しいCounterを作成します
// cl100k_baseエンコーディングを使用する（text-embedding-3-small / gpt-4o系と互換）
func NewCounter() (*Counter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &Counter{encoding: encoding}, nil
}

// Count はテキストのトークン数をカウントします
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return Estimate(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Trim はテキストを指定トークン数に収まるようトリミングします
func (c *Counter) Trim(text string, maxTokens int) string {
	if c == nil || c.encoding == nil || maxTokens <= 0 {
		return text
	}
	encoded := c.encoding.Encode(text, nil, nil)
	if len(encoded) <= maxTokens {
		return text
	}
	return c.encoding.Decode(encoded[:maxTokens])
}

// Estimate はテキストの推定トークン数を返します
// エンコーダが使えない場合のフォールバック（平均3文字で1トークンとみなす）
func Estimate(text string) int {
	return len([]rune(text)) / 3
}
