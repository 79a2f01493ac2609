package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/db-rag/internal/core/connection"
)

// ConnectionAddAction は接続登録コマンドのアクション
func ConnectionAddAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	dialectStr := cmd.String("dialect")
	dsn := cmd.String("dsn")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	dialect, err := connection.ParseDialect(dialectStr)
	if err != nil {
		return err
	}

	conn, err := connection.NewConnection(name, dialect, dsn)
	if err != nil {
		return err
	}

	// 登録前にターゲットへの疎通を確認する
	slog.Info("ターゲットDBへの疎通を確認します", "name", name, "dialect", dialect)
	connector, err := appCtx.Container.Opener.Open(ctx, conn)
	if err != nil {
		return fmt.Errorf("ターゲットDBへの接続に失敗: %w", err)
	}
	_ = connector.Close(ctx)

	if err := appCtx.Container.Connections.Create(ctx, conn); err != nil {
		return fmt.Errorf("接続の登録に失敗: %w", err)
	}

	fmt.Printf("接続 %q を登録しました (id: %s, dialect: %s)\n", conn.Name, conn.ID, conn.Dialect)
	return nil
}

// ConnectionListAction は接続一覧を表示するコマンドのアクション
func ConnectionListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	conns, err := appCtx.Container.Connections.List(ctx)
	if err != nil {
		return fmt.Errorf("接続一覧の取得に失敗: %w", err)
	}

	if len(conns) == 0 {
		fmt.Println("登録済みの接続はありません")
		return nil
	}

	for _, conn := range conns {
		fmt.Printf("%-24s %-10s %s\n", conn.Name, conn.Dialect, conn.RedactedDSN())
	}
	return nil
}

// ConnectionShowAction は接続詳細とスキーマのプレビューを表示するコマンドのアクション
func ConnectionShowAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	conn, err := appCtx.Container.Connections.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗: %w", err)
	}

	fmt.Printf("name:    %s\n", conn.Name)
	fmt.Printf("id:      %s\n", conn.ID)
	fmt.Printf("dialect: %s\n", conn.Dialect)
	fmt.Printf("dsn:     %s\n", conn.RedactedDSN())
	fmt.Printf("created: %s\n", conn.CreatedAt.Format(time.RFC3339))

	// ライブのスキーマプレビュー（サンプル行は取得しない）
	connector, err := appCtx.Container.Opener.Open(ctx, conn)
	if err != nil {
		return fmt.Errorf("ターゲットDBへの接続に失敗: %w", err)
	}
	defer connector.Close(ctx)

	snapshot, err := connector.Introspect(ctx, 0)
	if err != nil {
		return fmt.Errorf("スキーマ情報の取得に失敗: %w", err)
	}

	fmt.Printf("\nテーブル (%d):\n", len(snapshot.Tables))
	for _, table := range snapshot.Tables {
		if table.RowCount >= 0 {
			fmt.Printf("  %-32s %d列 約%d行\n", table.Name, len(table.Columns), table.RowCount)
		} else {
			fmt.Printf("  %-32s %d列\n", table.Name, len(table.Columns))
		}
	}
	return nil
}

// ConnectionRemoveAction は接続を削除するコマンドのアクション
func ConnectionRemoveAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	conn, err := appCtx.Container.Connections.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗: %w", err)
	}

	if err := appCtx.Container.Connections.Delete(ctx, conn.ID); err != nil {
		return fmt.Errorf("接続の削除に失敗: %w", err)
	}

	fmt.Printf("接続 %q を削除しました（スキーマインデックスも削除されます）\n", conn.Name)
	return nil
}
