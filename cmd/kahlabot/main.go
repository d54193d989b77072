package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/kahlabot/internal/consts"
	"github.com/tgifai/kahlabot/internal/pkg/logs"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the config file",
	Value:   consts.DefaultConfigPath(),
}

func main() {
	cmd := &cli.Command{
		Name:  "kahlabot",
		Usage: "Run a bot on a Kahla server",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			runHwd.cmd(),
			configHwd.cmd(),
			versionHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
