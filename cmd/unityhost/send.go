package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Initialize the engine and send one message",
	ArgsUsage: "target method [arg]",
	Flags: []cli.Flag{
		configFlag,
		&cli.BoolFlag{
			Name:    "number",
			Aliases: []string{"n"},
			Usage:   "Send the argument as a number instead of a string",
		},
	},
	Action: sendAction,
}

func sendAction(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("target and method required")
	}
	arg, err := sendArg(args[2:], cmd.Bool("number"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	h, err := newHost(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close(context.Background()) }()

	if err := h.loader.Initialize(ctx); err != nil {
		return err
	}
	if err := h.loader.SendMessage(ctx, args[0], args[1], arg); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "sent %s.%s(%s)\n", args[0], args[1], arg)
	return err
}
