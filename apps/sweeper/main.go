package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/ledger"
	"github.com/smallbiznis/creditledger/internal/migration"
	"github.com/smallbiznis/creditledger/internal/observability"
	"github.com/smallbiznis/creditledger/internal/sweeper"
	"github.com/smallbiznis/creditledger/internal/usage"
	"github.com/smallbiznis/creditledger/internal/user"
	"github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
)

// The sweeper binary runs the expiry loop without the HTTP surface, for
// deployments that scale the API and the background work independently.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// The ledger service owns the expiry pass; usage and user feed
		// its repository dependencies.
		user.Module,
		ledger.Module,
		usage.Module,

		sweeper.Module,
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
