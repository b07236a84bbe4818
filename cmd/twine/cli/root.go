package cli

import (
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

// NewRoot creates the top level twine command.
func NewRoot(logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "twine",
		Short:         "Publish built distributions to a package index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewUpload(logger))
	return cmd
}
