package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertextoedge/http-ytproxy/internal/domain/service"
)

func newTestURLCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-url <url>",
		Short: "Report whether a URL would be intercepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			match, ok := service.NewClassifier(cfg.WebsiteSet()).Classify(args[0])
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "supported (%s)\n", match.Category)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not supported")
			}
			return nil
		},
	}
}
