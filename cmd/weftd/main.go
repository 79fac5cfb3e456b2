package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "weftd",
		EnableShellCompletion: true,
		Usage:                 "Run the weft workflow engine: API, triggers, and workers in one process",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "weft.yaml",
				Sources: cli.EnvVars("WEFT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "node-id",
				Usage:   "Custom node ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WEFT_NODE_ID"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := config.Load(command.String("config"))
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel)

			nodeID := command.String("node-id")
			if nodeID == "" {
				nodeID = "weft-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("weftd").With("node_id", nodeID)
			logger.InfoContext(ctx, "Initializing weft daemon")

			daemon := NewDaemon(nodeID, cfg, logger)

			return daemon.Run(ctx)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
