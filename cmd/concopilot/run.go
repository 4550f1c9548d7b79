package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ConCopilot/concopilot/internal/copilot"
	"github.com/ConCopilot/concopilot/internal/registry"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/logging"
	"github.com/ConCopilot/concopilot/internal/userinterface"

	"github.com/spf13/cobra"
)

type webOptions struct {
	address string
	origins []string
}

func newRunCommand(c *cli) *cobra.Command {
	var (
		ref refFlags
		web webOptions
	)
	cmd := &cobra.Command{
		Use:   "run [config.yaml | group:artifact:version]",
		Short: "Build a copilot and run it until it exits",
		Example: `  concopilot run ./copilot/config.yaml
  concopilot run org.concopilot.basic:copilot:0.1.0 --web 127.0.0.1:8080
  concopilot run --group-id org.concopilot.basic --artifact-id copilot --version 0.1.0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pilot, err := c.buildCopilot(cmd.Context(), &ref, args)
			if err != nil {
				return err
			}
			return c.run(cmd.Context(), pilot, web)
		},
	}
	ref.bind(cmd.Flags())
	cmd.Flags().StringVar(&web.address, "web", "", "serve a duplex user interface over WebSocket on this address")
	cmd.Flags().StringSliceVar(&web.origins, "allow-origin", nil, "origins allowed to connect to the web bridge")
	return cmd
}

func newBuildCommand(c *cli) *cobra.Command {
	var ref refFlags
	cmd := &cobra.Command{
		Use:   "build [config.yaml | group:artifact:version]",
		Short: "Resolve and construct a copilot without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pilot, err := c.buildCopilot(cmd.Context(), &ref, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built copilot %s\n", pilot.Name())
			for _, part := range pilot.Parts.Components() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s\n", part.Type(), part.Name())
			}
			return nil
		},
	}
	ref.bind(cmd.Flags())
	return cmd
}

func (c *cli) buildCopilot(ctx context.Context, ref *refFlags, args []string) (*copilot.Basic, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	file, d, err := ref.target(c.fs, args)
	if err != nil {
		return nil, err
	}
	r, err := c.registry()
	if err != nil {
		return nil, err
	}
	if file != "" {
		return registry.BuildFile[*copilot.Basic](ctx, r, file)
	}
	return registry.Build[*copilot.Basic](ctx, r, d)
}

func (c *cli) run(ctx context.Context, pilot *copilot.Basic, web webOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if web.address != "" {
		duplex, ok := pilot.UserInterface.(*userinterface.Duplex)
		if !ok {
			return errs.NewConfigError("user_interface", "--web needs a duplex user interface, got %T", pilot.UserInterface)
		}
		cfg := userinterface.DefaultWebBridgeConfig()
		cfg.Address = web.address
		cfg.AllowOrigins = web.origins
		bridge := userinterface.NewWebBridge(duplex, cfg, c.provider, logging.NewComponentLogger("webbridge"))
		if err := bridge.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = bridge.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(os.Stderr, "web bridge listening on ws://%s/ws\n", bridge.Addr())
	}

	if err := pilot.Start(ctx); err != nil {
		return err
	}
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	done := make(chan error, 1)
	go func() { done <- pilot.Wait() }()

	for {
		select {
		case sig := <-signals:
			fmt.Fprintf(os.Stderr, "\nreceived %s, stopping copilot...\n", sig)
			pilot.Interrupt()
		case err := <-done:
			if errs.IsInterrupted(err) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
