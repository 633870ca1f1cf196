package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/lfjournal/cmd/tool/dump"
	"github.com/alpacahq/lfjournal/cmd/tool/tail"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified read-only tool against a journal directory"
	toolExample   = "lfj tool dump --dir <path> --vec <name> [flags]"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		Aliases:    []string{"t"},
		SuggestFor: []string{"dump", "tail"},
		Example:    toolExample,
	}
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.AddCommand(dump.Cmd)
	Cmd.AddCommand(tail.Cmd)
}
