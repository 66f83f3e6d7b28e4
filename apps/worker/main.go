package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/skarecito/verifactu/internal/clock"
	"github.com/skarecito/verifactu/internal/config"
	"github.com/skarecito/verifactu/internal/observability"
	"github.com/skarecito/verifactu/internal/submission"
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

		// No server module: this process only drains the outbox.
		submission.Module,
		submission.WorkerModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
