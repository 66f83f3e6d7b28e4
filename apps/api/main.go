package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/skarecito/verifactu/internal/clock"
	"github.com/skarecito/verifactu/internal/config"
	"github.com/skarecito/verifactu/internal/migration"
	"github.com/skarecito/verifactu/internal/observability"
	"github.com/skarecito/verifactu/internal/server"
	"github.com/skarecito/verifactu/pkg/db"
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

		// HTTP surface only; the relay runs in apps/worker.
		server.Module,
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
