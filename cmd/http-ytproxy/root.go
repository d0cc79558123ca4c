package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vertextoedge/http-ytproxy/internal/config"
)

const defaultConfigName = "config.toml"

// rootOptions holds the flags shared by every command
type rootOptions struct {
	configPath string
	serve      serveOptions
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "http-ytproxy",
		Short:         "Local proxy that splits video range requests into bounded chunks",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "Path to TOML configuration file")
	addServeFlags(rootCmd, &opts.serve)

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newGenerateConfigCmd())
	rootCmd.AddCommand(newTestURLCmd(opts))

	return rootCmd
}

// defaultConfigPath is config.toml next to the executable
func defaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(filepath.Dir(exe), defaultConfigName)
}

// loadConfig reads the configuration; a missing file is only an error when
// --config was given explicitly
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config")
	return config.LoadOrDefault(opts.configPath, explicit)
}
