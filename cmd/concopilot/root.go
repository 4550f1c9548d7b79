package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ConCopilot/concopilot/internal/builtin"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/registry"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the state shared by every subcommand once the root command has
// loaded the settings.
type cli struct {
	viper        *viper.Viper
	settingsPath string
	fs           afero.Fs

	settings config.Settings
	provider *observability.Provider
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&cli{viper: config.NewViper(), fs: afero.NewOsFs()})
}

func newRootCommandWith(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "concopilot",
		Short: "Assemble and run LLM copilots from component packages",
		Long: `concopilot builds a copilot from component descriptors, resolving each
component from the working directory, the local repository or a remote
repository, and runs its interaction loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return c.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.settingsPath, "settings", "", "settings file (default ~/.concopilot/settings.yaml)")
	flags.String("working-directory", "", "working directory components are resolved into")
	flags.String("local-repo", "", "local package repository path")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "write logs as JSON")
	flags.Bool("skip-setup", false, "skip the setup commands of component packages")
	for key, flag := range map[string]string{
		"working_directory": "working-directory",
		"local_repo_path":   "local-repo",
		"log_level":         "log-level",
		"log_json":          "log-json",
		"skip_setup":        "skip-setup",
	} {
		_ = c.viper.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newRunCommand(c), newBuildCommand(c), newRepoCommand(c), newInfoCommand(c))
	return root
}

func (c *cli) load() error {
	settings, err := config.LoadSettings(c.viper, c.settingsPath)
	if err != nil {
		return err
	}
	if err := logging.Configure(logging.Options{Level: settings.LogLevel, JSON: settings.LogJSON}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	provider, err := observability.Install(settings.Observability)
	if err != nil {
		return err
	}
	c.settings, c.provider = settings, provider
	return nil
}

func (c *cli) close() error {
	logging.Sync()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.provider.Shutdown(ctx)
}

func (c *cli) registry() (*registry.Registry, error) {
	return builtin.NewRegistry(c.settings, registry.WithFs(c.fs))
}
