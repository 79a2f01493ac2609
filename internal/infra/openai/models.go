package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinford/db-rag/internal/core/answer"
)

// chatModelPrefixes は一覧に含めるチャットモデルのIDプレフィックス
var chatModelPrefixes = []string{"gpt-3.5", "gpt-4", "gpt-5"}

// ModelInfo は利用可能なモデルの情報
type ModelInfo struct {
	ID      string
	OwnedBy string
	Created time.Time
}

// ListModels は利用可能なチャットモデルの一覧をID昇順で返す
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", answer.ErrProviderUnavailable, err)
	}

	var models []ModelInfo
	for _, m := range page.Data {
		if !isChatModel(m.ID) {
			continue
		}
		models = append(models, ModelInfo{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
			Created: time.Unix(m.Created, 0),
		})
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].ID < models[j].ID
	})

	return models, nil
}

func isChatModel(id string) bool {
	for _, prefix := range chatModelPrefixes {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
