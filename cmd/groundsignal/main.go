package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/clock"
	"github.com/groundsignal/groundsignal/internal/config"
	"github.com/groundsignal/groundsignal/internal/migration"
	"github.com/groundsignal/groundsignal/internal/observability"
	"github.com/groundsignal/groundsignal/internal/scheduler"
	"github.com/groundsignal/groundsignal/internal/server"
	"github.com/groundsignal/groundsignal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
