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
	"github.com/smallbiznis/taxbridge/internal/worker"
	"github.com/smallbiznis/taxbridge/pkg/db"
	"github.com/smallbiznis/taxbridge/pkg/telemetry"
	"go.uber.org/fx"
)

// Standalone submission worker. Scales horizontally: the advisory leases in
// the invoice store keep concurrent instances from double-submitting.
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
		worker.Module,

		// No server module!
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
