package main

import (
	"github.com/tripsphere/backend/internal/server"
	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
