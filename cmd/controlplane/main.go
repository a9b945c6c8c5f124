package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"workforce-controlplane/internal/config"
	"workforce-controlplane/internal/httpapi"
	"workforce-controlplane/internal/logger"
	"workforce-controlplane/internal/server"
	"workforce-controlplane/pkg/clock"
	"workforce-controlplane/pkg/db"
	"workforce-controlplane/pkg/redis"
	"workforce-controlplane/pkg/sequence"
	"workforce-controlplane/pkg/task"
	"workforce-controlplane/services/audit"
	"workforce-controlplane/services/employee"
	"workforce-controlplane/services/guard"
	"workforce-controlplane/services/license"
	"workforce-controlplane/services/notify"
	"workforce-controlplane/services/payment"
	"workforce-controlplane/services/role"
	"workforce-controlplane/services/settings"
	"workforce-controlplane/services/support"
	"workforce-controlplane/services/tenant"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		clock.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		fx.Provide(
			provideSnowflakeNode,
			httpapi.ProvideMux,
			server.ProvideHTTPServer,
		),
		audit.Module,
		tenant.Module,
		role.Module,
		guard.Module,
		license.Module,
		notify.Module,
		settings.Module,
		payment.Module,
		employee.Module,
		support.Module,
		fx.Invoke(server.Run),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Snowflake.NodeID)
}
