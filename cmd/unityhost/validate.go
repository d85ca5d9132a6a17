package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wippyai/unity-host/config"
)

var validateCmd = &cli.Command{
	Name:      "validate",
	Aliases:   []string{"lint"},
	Usage:     "Validate a settings file",
	ArgsUsage: "file",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "tree",
			Aliases: []string{"t"},
			Usage:   "Print the effective settings",
		},
	},
	Action: validateAction,
}

func validateAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 {
		return fmt.Errorf("config file path required")
	}
	path := cmd.Args().Get(0)
	cfg, err := config.NewConfig(path)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "Configuration file %s is valid\n", path)
	if cmd.Bool("tree") {
		fmt.Fprintln(w)
		fmt.Fprint(w, cfg)
		return nil
	}
	fmt.Fprint(w, renderSummary(cfg))
	return nil
}

func renderSummary(cfg *config.Config) string {
	var b strings.Builder
	engine := cfg.Engine.Path
	if engine == "" {
		engine = "(none)"
	}
	store := "memory"
	if cfg.Storage.Path != "" {
		store = cfg.Storage.Path
	}
	bridge := "disabled"
	if cfg.Bridge.Listen != "" {
		bridge = cfg.Bridge.Listen + cfg.Bridge.Path
	}
	fmt.Fprintf(&b, "- Engine: %s\n", engine)
	fmt.Fprintf(&b, "- Storage: %s mounted at %s\n", store, cfg.Storage.Mount)
	fmt.Fprintf(&b, "- Canvas: %dx%d WebGL %d\n", cfg.Graphics.Width, cfg.Graphics.Height, cfg.Graphics.MajorVersion)
	fmt.Fprintf(&b, "- Bridge: %s\n", bridge)
	return b.String()
}
