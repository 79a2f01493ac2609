package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/db-rag/internal/core/answer"
	"github.com/jinford/db-rag/internal/core/connection"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	connName := cmd.String("connection")
	question := cmd.String("question")
	envFile := cmd.String("env")

	// --questionを省略した場合は位置引数を質問文として扱う
	if question == "" {
		question = cmd.Args().First()
	}
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	conn, err := appCtx.Container.Connections.GetByName(ctx, connName)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗: %w", err)
	}

	params := buildAnswerParams(cmd, conn, question)
	if cmd.Bool("execute") {
		params.AutoExecute = mo.Some(true)
	}
	if cmd.Bool("no-execute") {
		params.AutoExecute = mo.Some(false)
	}

	slog.Info("質問応答を開始", "connection", conn.Name, "question", question)

	result, err := appCtx.Container.AnswerService.Answer(ctx, params)
	if err != nil {
		slog.Error("質問応答に失敗しました", "error", err)
		return err
	}

	fmt.Println(result.Text)

	if generated, ok := result.Query.Get(); ok {
		fmt.Println("\n--- 生成されたクエリ ---")
		statement := generated.Statement
		if statement == "" {
			statement = generated.Raw
		}
		fmt.Println(statement)
		if !generated.Verdict.Safe {
			fmt.Printf("（安全性検証で拒否: %s）\n", generated.Verdict.Reason)
		}
	}

	if execution, ok := result.Execution.Get(); ok {
		label := fmt.Sprintf("%d行", execution.RowCount)
		if execution.Truncated {
			label += "、上限で切り詰め"
		}
		fmt.Printf("\n--- 実行結果 (%s) ---\n", label)
		printResultTable(execution)
	} else if result.SkippedReason != "" {
		fmt.Printf("\n（実行なし: %s）\n", result.SkippedReason)
	}

	return nil
}

// QueryGenerateAction はクエリの生成と検証のみを行うコマンドのアクション。
// 生成されたクエリがどう検証されたかに関わらず、ターゲットDBでは実行しない
func QueryGenerateAction(ctx context.Context, cmd *cli.Command) error {
	connName := cmd.String("connection")
	question := cmd.String("question")
	envFile := cmd.String("env")

	if question == "" {
		question = cmd.Args().First()
	}
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	conn, err := appCtx.Container.Connections.GetByName(ctx, connName)
	if err != nil {
		return fmt.Errorf("接続の取得に失敗: %w", err)
	}

	params := buildAnswerParams(cmd, conn, question)

	generated, err := appCtx.Container.AnswerService.GenerateQuery(ctx, params)
	if err != nil {
		return fmt.Errorf("クエリ生成に失敗: %w", err)
	}

	if !generated.Verdict.Safe {
		fmt.Fprintf(os.Stderr, "生成されたクエリは安全性検証で拒否されました: %s\n", generated.Verdict.Reason)
		fmt.Println(generated.Raw)
		return fmt.Errorf("安全なクエリを生成できませんでした（%d回試行）", generated.Attempts)
	}

	fmt.Println(generated.Statement)
	if generated.Verdict.Capped {
		fmt.Fprintln(os.Stderr, "（行数上限を適用済み）")
	}
	return nil
}

// buildAnswerParams は共通フラグからAnswerParamsを組み立てる
func buildAnswerParams(cmd *cli.Command, conn *connection.Connection, question string) answer.AnswerParams {
	return answer.AnswerParams{
		ConnectionID: conn.ID,
		Question:     question,
		Generation: answer.GenerationConfig{
			Model:       cmd.String("model"),
			Temperature: cmd.Float("temperature"),
		},
		TopK: cmd.Int("top-k"),
	}
}

// printResultTable はクエリ結果をタブ区切りの表で出力する
func printResultTable(result connection.QueryResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(result.Columns, "\t"))

	for _, row := range result.Rows {
		cells := make([]string, 0, len(result.Columns))
		for _, col := range result.Columns {
			cells = append(cells, formatCell(row[col]))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
}

// formatCell は1セル分の値を表示用文字列にする
func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
