// Package seed bootstraps development data.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"gorm.io/gorm"
)

const (
	defaultTerminalPrefix = "POS1"
	defaultTerminalName   = "Default point of sale"
	defaultSellerTIN      = "20405123"
)

// EnsureDefaultTerminal seeds one issuing terminal so invoices can be
// created immediately after first startup.
func EnsureDefaultTerminal(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing invoicedomain.Terminal
		err := tx.Where("prefix = ?", defaultTerminalPrefix).Take(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		return tx.Create(&invoicedomain.Terminal{
			ID:           node.Generate(),
			Prefix:       defaultTerminalPrefix,
			SellerTIN:    defaultSellerTIN,
			Name:         defaultTerminalName,
			NextSequence: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}).Error
	})
}
