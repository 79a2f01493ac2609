package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/db-rag/internal/core/indexing"
)

// IndexRunAction はスキーマインデックス作成コマンドのアクション
func IndexRunAction(ctx context.Context, cmd *cli.Command) error {
	connName := cmd.String("connection")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	conn, err := appCtx.Container.Connections.GetByName(ctx, connName)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗: %w", err)
	}

	params := indexing.ReindexParams{ConnectionID: conn.ID}
	if cmd.IsSet("samples") {
		params.SampleRows = mo.Some(cmd.Int("samples"))
	}

	slog.Info("スキーマインデックス作成を開始",
		"connection", conn.Name,
		"dialect", conn.Dialect,
	)

	result, err := appCtx.Container.IndexService.Reindex(ctx, params)
	if err != nil {
		return fmt.Errorf("インデックス作成に失敗: %w", err)
	}

	fmt.Println("インデックス作成が完了しました")
	fmt.Printf("  世代:       %s\n", result.Generation)
	fmt.Printf("  テーブル数: %d\n", result.TableCount)
	fmt.Printf("  チャンク数: %d\n", result.ChunkCount)
	if len(result.SkippedTables) > 0 {
		fmt.Printf("  除外:       %s\n", strings.Join(result.SkippedTables, ", "))
	}
	fmt.Printf("  所要時間:   %s\n", result.Elapsed.Round(time.Millisecond))
	return nil
}
