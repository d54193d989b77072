package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/kahlabot"
	"github.com/tgifai/kahlabot/internal/bots"
)

var versionHwd = &VersionRunner{}

type VersionRunner struct{}

func (r *VersionRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Print the build version and the Kahla API version it speaks",
		Action: r.run,
	}
}

func (r *VersionRunner) run(_ context.Context, _ *cli.Command) error {
	fmt.Printf("kahlabot %s\n", kahlabot.VERSION)
	fmt.Printf("kahla api %s\n", kahlabot.APIVersion)
	fmt.Printf("bots: %v\n", bots.Names())
	return nil
}
