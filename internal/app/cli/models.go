package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// ModelsListAction は利用可能な生成モデルを一覧表示するコマンドのアクション
func ModelsListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	client := appCtx.Container.OpenAIClient
	if client == nil {
		return fmt.Errorf("OpenAIクライアントが構成されていません")
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("モデル一覧の取得に失敗: %w", err)
	}

	// 設定中のモデルに*を付ける
	for _, model := range models {
		marker := "  "
		if model.ID == appCtx.Config.OpenAI.LLMModel {
			marker = "* "
		}
		fmt.Printf("%s%s\n", marker, model.ID)
	}
	return nil
}
