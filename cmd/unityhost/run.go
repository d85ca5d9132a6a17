package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/bridge"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Initialize the engine, send messages and optionally serve the WebSocket bridge",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{
			Name:    "engine",
			Aliases: []string{"e"},
			Usage:   "Engine binary, overriding engine.path",
		},
		&cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Usage:   "Bridge address, overriding bridge.listen",
		},
		&cli.StringSliceFlag{
			Name:    "send",
			Aliases: []string{"s"},
			Usage:   "Message to send once ready, as target:method[:arg]; repeatable",
		},
	},
	Action: runAction,
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	if p := cmd.String("engine"); p != "" {
		cfg.Engine.Path = p
	}
	if a := cmd.String("listen"); a != "" {
		cfg.Bridge.Listen = a
	}

	var sends []sendSpec
	for _, s := range cmd.StringSlice("send") {
		spec, err := parseSend(s)
		if err != nil {
			return err
		}
		sends = append(sends, spec)
	}

	h, err := newHost(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := h.loader.Initialize(ctx); err != nil {
		return err
	}
	for _, s := range sends {
		if err := h.loader.SendMessage(ctx, s.target, s.method, s.arg); err != nil {
			return err
		}
		h.logger.Info("message sent",
			zap.String("target", s.target),
			zap.String("method", s.method),
			zap.Stringer("arg", s.arg))
	}

	if cfg.Bridge.Listen == "" {
		return nil
	}
	return serveBridge(ctx, h)
}

// serveBridge serves the bridge until ctx is cancelled.
func serveBridge(ctx context.Context, h *host) error {
	mux := http.NewServeMux()
	mux.Handle(h.cfg.Bridge.Path, bridge.Handler(h.loader, bridge.Options{Logger: h.logger.Named("bridge")}))

	ln, err := net.Listen("tcp", h.cfg.Bridge.Listen)
	if err != nil {
		return fmt.Errorf("bridge listen: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	h.logger.Info("bridge listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", h.cfg.Bridge.Path))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
