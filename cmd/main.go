package cmd

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/lfjournal/cmd/create"
	"github.com/alpacahq/lfjournal/cmd/inspect"
	"github.com/alpacahq/lfjournal/cmd/start"
	"github.com/alpacahq/lfjournal/cmd/tool"
	"github.com/alpacahq/lfjournal/utils"
	"github.com/alpacahq/lfjournal/utils/log"
)

// flagPrintVersion set flag to show current lfj version.
var flagPrintVersion bool

// Execute builds the command tree and executes commands.
func Execute() error {
	// c is the root command.
	c := &cobra.Command{
		Use:   "lfj",
		Short: "Transactional mmap journal for order and market data",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Print version if specified.
			if flagPrintVersion {
				log.Info("version: %+v", utils.Tag)
				log.Info("commit hash: %+v", utils.GitHash)
				log.Info("utc build time: %+v", utils.BuildStamp)
				return nil
			}
			// Print information regarding usage.
			return cmd.Usage()
		},
	}

	// Adds subcommands and version flag.
	c.AddCommand(start.Cmd)
	c.AddCommand(create.Cmd)
	c.AddCommand(inspect.Cmd)
	c.AddCommand(tool.Cmd)
	c.Flags().BoolVarP(&flagPrintVersion, "version", "v", false, "show the version info and exit")

	return c.Execute()
}
