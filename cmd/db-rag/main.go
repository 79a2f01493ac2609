package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/db-rag/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "db-rag",
		Usage: "データベーススキーマを意味検索し、自然言語の質問から読み取り専用クエリを生成・実行するエンジン",
		Commands: []*cli.Command{
			{
				Name:  "connection",
				Usage: "接続管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "ターゲットDBへの接続を登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "name",
								Usage:    "接続名",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "dialect",
								Usage:    "方言 (postgres/mysql/mongodb)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "dsn",
								Usage:    "接続文字列",
								Required: true,
							},
						},
						Action: appcli.ConnectionAddAction,
					},
					{
						Name:  "list",
						Usage: "登録済み接続の一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: appcli.ConnectionListAction,
					},
					{
						Name:  "show",
						Usage: "接続詳細とスキーマのプレビューを表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "name",
								Usage:    "接続名",
								Required: true,
							},
						},
						Action: appcli.ConnectionShowAction,
					},
					{
						Name:  "remove",
						Usage: "接続とそのスキーマインデックスを削除",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "name",
								Usage:    "接続名",
								Required: true,
							},
						},
						Action: appcli.ConnectionRemoveAction,
					},
				},
			},
			{
				Name:  "index",
				Usage: "スキーマインデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "スキーマを取得してベクトルインデックスを作り直す",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "connection",
								Usage:    "接続名",
								Required: true,
							},
							&cli.IntFlag{
								Name:  "samples",
								Usage: "テーブルごとに取り込むサンプル行数（省略時は設定値）",
							},
						},
						Action: appcli.IndexRunAction,
					},
				},
			},
			{
				Name:  "ask",
				Usage: "自然言語の質問に回答（クエリ生成・実行・回答合成）",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "connection",
						Usage:    "接続名",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "question",
						Usage: "質問文（省略時は位置引数）",
					},
					&cli.BoolFlag{
						Name:  "execute",
						Usage: "検証を通過したクエリを必ず実行する",
					},
					&cli.BoolFlag{
						Name:  "no-execute",
						Usage: "クエリを実行せず回答のみ生成する",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "生成に使うモデル（省略時は設定値）",
					},
					&cli.FloatFlag{
						Name:  "temperature",
						Usage: "生成温度（省略時は設定値）",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "スキーマ検索で参照するチャンク数（省略時は設定値）",
					},
				},
				Action: appcli.AskAction,
			},
			{
				Name:  "query",
				Usage: "クエリ生成コマンド",
				Commands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "クエリの生成と検証のみを行う（実行はしない）",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "connection",
								Usage:    "接続名",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "question",
								Usage: "質問文（省略時は位置引数）",
							},
							&cli.StringFlag{
								Name:  "model",
								Usage: "生成に使うモデル（省略時は設定値）",
							},
							&cli.FloatFlag{
								Name:  "temperature",
								Usage: "生成温度（省略時は設定値）",
							},
							&cli.IntFlag{
								Name:  "top-k",
								Usage: "スキーマ検索で参照するチャンク数（省略時は設定値）",
							},
						},
						Action: appcli.QueryGenerateAction,
					},
				},
			},
			{
				Name:  "models",
				Usage: "生成モデル管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "利用可能な生成モデルの一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: appcli.ModelsListAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTP APIサーバを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
