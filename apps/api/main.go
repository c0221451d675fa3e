package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/recurhq/recur/internal/clock"
	"github.com/recurhq/recur/internal/config"
	"github.com/recurhq/recur/internal/migration"
	"github.com/recurhq/recur/internal/observability"
	"github.com/recurhq/recur/internal/server"
	"github.com/recurhq/recur/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
	)
	app.Run()
}

// registerSnowflake builds the process ID generator. Each deployed instance
// needs a distinct SNOWFLAKE_NODE to keep IDs collision free.
func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(snowflakeNodeNumber())
	if err != nil {
		panic(err)
	}
	return node
}

func snowflakeNodeNumber() int64 {
	raw := os.Getenv("SNOWFLAKE_NODE")
	if raw == "" {
		return 1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 1
	}
	return n
}
