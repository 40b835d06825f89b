package migration

import (
	attributiondomain "github.com/groundsignal/groundsignal/internal/attribution/domain"
	auditdomain "github.com/groundsignal/groundsignal/internal/audit/domain"
	backfilldomain "github.com/groundsignal/groundsignal/internal/backfill/domain"
	"github.com/groundsignal/groundsignal/internal/config"
	ledgerdomain "github.com/groundsignal/groundsignal/internal/ledger/domain"
	orgdomain "github.com/groundsignal/groundsignal/internal/organization/domain"
	refcodedomain "github.com/groundsignal/groundsignal/internal/refcode/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// sqlite is for local runs and tests; gorm builds the schema
			// straight from the models there.
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

// AutoMigrate creates the schema from the gorm models. Postgres deployments
// use the versioned SQL migrations instead.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&ledgerdomain.Transaction{},
		&ledgerdomain.Touchpoint{},
		&ledgerdomain.ConversionEvent{},
		&refcodedomain.RefcodeMapping{},
		&attributiondomain.AttributionRecord{},
		&backfilldomain.BackfillJob{},
		&backfilldomain.BackfillChunk{},
		&auditdomain.AuditLog{},
	)
}
