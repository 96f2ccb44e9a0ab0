package migration

import (
	"github.com/smallbiznis/taxbridge/internal/config"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"github.com/smallbiznis/taxbridge/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// The versioned migrations target postgres; other dialects
			// (sqlite dev mode) take the model-derived schema.
			if err := conn.AutoMigrate(
				&invoicedomain.Terminal{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceLine{},
			); err != nil {
				return err
			}
		}

		if cfg.SeedDev {
			return seed.EnsureDefaultTerminal(conn)
		}
		return nil
	}),
)
