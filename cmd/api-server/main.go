package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appkg "github.com/xenking/distributor-api/internal/app"
)

func main() {
	// A local .env is optional; real deployments set the environment.
	_ = godotenv.Load()

	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		return appkg.Run(ctx, lg, m, cfg)
	})
}
