//go:build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/sandeepkv93/license-activation-service/internal/app"
	"github.com/sandeepkv93/license-activation-service/internal/config"

	"github.com/google/wire"
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, func(), error) {
	wire.Build(provideRuntime, StoreSet, ServiceSet, HTTPSet, provideApp)
	return nil, nil, nil
}

func InitializeTooling(ctx context.Context, cfg *config.Config) (*Tooling, func(), error) {
	wire.Build(StoreSet, ServiceSet, wire.Struct(new(Tooling), "*"))
	return nil, nil, nil
}
