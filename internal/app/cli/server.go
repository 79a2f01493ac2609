package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/db-rag/internal/api"
)

// ServerStartAction はHTTP APIサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	port := appCtx.Config.Server.Port
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}

	handler := api.NewHandler(api.Dependencies{
		Logger:      appCtx.Logger(),
		Connections: appCtx.Container.Connections,
		Opener:      appCtx.Container.Opener,
		Indexer:     appCtx.Container.IndexService,
		Answerer:    appCtx.Container.AnswerService,
		APIToken:    appCtx.Config.APIToken,
	})

	return api.Serve(ctx, fmt.Sprintf(":%d", port), handler, appCtx.Logger())
}
