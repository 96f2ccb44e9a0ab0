package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxbridge/internal/authority"
	"github.com/smallbiznis/taxbridge/internal/clock"
	"github.com/smallbiznis/taxbridge/internal/config"
	"github.com/smallbiznis/taxbridge/internal/invoice"
	"github.com/smallbiznis/taxbridge/internal/logger"
	"github.com/smallbiznis/taxbridge/internal/migration"
	"github.com/smallbiznis/taxbridge/internal/observability"
	"github.com/smallbiznis/taxbridge/internal/providers/pdf"
	"github.com/smallbiznis/taxbridge/internal/reconciliation"
	"github.com/smallbiznis/taxbridge/internal/server"
	"github.com/smallbiznis/taxbridge/internal/worker"
	"github.com/smallbiznis/taxbridge/pkg/db"
	"github.com/smallbiznis/taxbridge/pkg/telemetry"
	"go.uber.org/fx"
)

// The monolith: HTTP API and submission worker in one process.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		invoice.Module,
		authority.Module,
		reconciliation.Module,
		pdf.Module,
		worker.Module,
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
