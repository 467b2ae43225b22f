package migration

import (
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	userdomain "github.com/smallbiznis/creditledger/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// Versioned SQL migrations target postgres. The sqlite and mysql
		// paths exist for local development and lean on gorm's schema sync.
		if conn.Dialector.Name() != "postgres" {
			return conn.AutoMigrate(
				&userdomain.User{},
				&ledgerdomain.CreditGrant{},
				&usagedomain.UsageRecord{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		return RunMigrations(sqlDB)
	}),
)
