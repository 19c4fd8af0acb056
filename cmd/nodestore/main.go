package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/eigerco/nodestore/internal/store"
	"github.com/eigerco/nodestore/pkg/log"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "nodestore",
		Usage: "inspect and edit the node's column stores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "storage configuration `FILE` (YAML)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "emit logs as JSON",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := log.ParseLogLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			logType := log.ConsoleLogger
			if c.Bool("log-json") {
				logType = log.JSONLogger
			}
			log.Init(log.Options{LogLevel: level, Type: logType, Output: c.App.ErrWriter})
			return nil
		},
		Commands: []*cli.Command{
			&Columns,
			&Get,
			&Scan,
			&Put,
			&Delete,
			&Prune,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.CLI.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func openStorage(c *cli.Context) (*store.NodeStorage, error) {
	cfg := store.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = store.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	return store.NewOpener(cfg).Open()
}
