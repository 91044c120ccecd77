package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/MrSnakeDoc/lbreg/internal/app"
	"github.com/MrSnakeDoc/lbreg/internal/version"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "",
		Usage:   "YAML file overriding the registration settings (default: $LBREG_CONFIG_FILE)",
	},
}

func main() {
	a := &cli.App{
		Name:    "lbreg",
		Usage:   "Register this instance with load-balancer control planes for its lifetime",
		Version: version.Version,
		Flags:   flags,
		Action:  runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "serve, register at start and deregister at shutdown (default)",
				Flags:  flags,
				Action: runAction,
			},
			{
				Name:  "cleanup",
				Usage: "remove every entry of this instance from every control plane and exit",
				Flags: append([]cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Value: 30 * time.Second,
						Usage: "give up after this long",
					},
				}, flags...),
				Action: cleanupAction,
			},
		},
	}

	if err := a.Run(os.Args); err != nil {
		log.Fatalf("❌ lbreg failed: %v", err)
	}
}

func runAction(cCtx *cli.Context) error {
	application, err := app.New(cCtx.String("config"))
	if err != nil {
		return err
	}
	return application.Run()
}

func cleanupAction(cCtx *cli.Context) error {
	application, err := app.New(cCtx.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cCtx.Duration("timeout"))
	defer cancel()

	removed, err := application.Cleanup(ctx)
	fmt.Fprintf(cCtx.App.Writer, "removed %d server entries\n", removed)
	return err
}
