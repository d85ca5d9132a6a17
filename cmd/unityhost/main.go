// Command unityhost runs a Unity WebAssembly build outside the browser.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// Version is set during build using ldflags
var Version = "dev"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the .toml settings file",
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "unityhost",
		Version: Version,
		Usage:   "Host a Unity WebAssembly engine build",
		Commands: []*cli.Command{
			runCmd,
			sendCmd,
			consoleCmd,
			validateCmd,
			{
				Name:  "version",
				Usage: "Print the version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					_, err := fmt.Fprintf(cmd.Root().Writer, "unityhost version %s\n", cmd.Root().Version)
					return err
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
