// Command provable computes digests, seals payloads with the Kayros
// authority and verifies proof envelopes from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := exitCode(newApp().RunContext(ctx, os.Args))
	stop()
	os.Exit(code)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	code := 1
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		code = coder.ExitCode()
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "provable:", msg)
	}
	return code
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "provable",
		Usage: "hash, attest and verify data against the Kayros proof authority",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or JSON config file; PROVABLE_* environment variables are used when omitted",
				EnvVars: []string{"PROVABLE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "authority",
				Usage: "override the authority base URL",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log authority round trips to stderr",
			},
		},
		Commands: []*cli.Command{
			hashCommand(),
			proveCommand(),
			verifyCommand(),
			recordCommand(),
		},
		HideHelpCommand: true,
		ExitErrHandler:  func(*cli.Context, error) {},
	}
}
