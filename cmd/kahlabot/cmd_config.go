package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/tgifai/kahlabot/internal/config"
)

var configHwd = &ConfigRunner{}

type ConfigRunner struct{}

func (r *ConfigRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the config file and its saved settings",
		Commands: []*cli.Command{
			{
				Name:   "path",
				Usage:  "Print the config file path",
				Action: r.path,
			},
			{
				Name:   "show",
				Usage:  "Print the effective config",
				Action: r.show,
			},
			{
				Name:      "get",
				Usage:     "Print saved settings, or one of them",
				ArgsUsage: "[name]",
				Action:    r.get,
			},
			{
				Name:      "set",
				Usage:     "Save a setting, e.g. `set server_address https://server.kahla.app`",
				ArgsUsage: "<name> <value>",
				Action:    r.set,
			},
			{
				Name:      "unset",
				Usage:     "Forget a setting, e.g. `unset server_address` to be asked again",
				ArgsUsage: "<name>",
				Action:    r.unset,
			},
		},
	}
}

func (r *ConfigRunner) load(cmd *cli.Command) (*config.InstanceManager, error) {
	ins, err := config.LoadOrInit(cmd.String(configFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("loading config error: %w", err)
	}
	return ins, nil
}

func (r *ConfigRunner) path(_ context.Context, cmd *cli.Command) error {
	ins, err := r.load(cmd)
	if err != nil {
		return err
	}
	fmt.Println(ins.Path())
	return nil
}

func (r *ConfigRunner) show(_ context.Context, cmd *cli.Command) error {
	ins, err := r.load(cmd)
	if err != nil {
		return err
	}
	cfg, err := ins.Get()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func (r *ConfigRunner) get(_ context.Context, cmd *cli.Command) error {
	ins, err := r.load(cmd)
	if err != nil {
		return err
	}
	settings := ins.Settings()

	if name := cmd.Args().First(); name != "" {
		value, ok := settings.Get(name)
		if !ok {
			return fmt.Errorf("setting %q is not set", name)
		}
		fmt.Println(value)
		return nil
	}

	cfg, err := ins.Get()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(cfg.Settings))
	for name := range cfg.Settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s = %s\n", color.CyanString(name), cfg.Settings[name])
	}
	return nil
}

func (r *ConfigRunner) set(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: config set <name> <value>")
	}
	ins, err := r.load(cmd)
	if err != nil {
		return err
	}
	name, value := cmd.Args().Get(0), cmd.Args().Get(1)
	if err := ins.Settings().Set(name, value); err != nil {
		return err
	}
	color.Green("saved %s", name)
	return nil
}

func (r *ConfigRunner) unset(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: config unset <name>")
	}
	ins, err := r.load(cmd)
	if err != nil {
		return err
	}
	if err := ins.Settings().Delete(name); err != nil {
		return err
	}
	color.Green("removed %s", name)
	return nil
}
