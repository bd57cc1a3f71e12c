// Package cli builds the guildkeeper command tree.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

type RootOptions struct {
	ConfigPath string
	Format     string
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "guildkeeper",
		Short:         "Discord community bot",
		Long:          "Runs the guildkeeper bot: giveaways, timed mutes, ban revocation votes, premium grants and captcha verification.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			if opts.ConfigPath != "" {
				return os.Setenv("CONFIG_PATH", opts.ConfigPath)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.yaml (overrides CONFIG_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format for inspection commands (json|text)")

	cmd.AddCommand(newActionsCommand(opts))
	cmd.AddCommand(newGrantsCommand(opts))

	return cmd
}
