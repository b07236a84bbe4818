package cli

import (
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"

	"github.com/khdc-me/twine/settings"
	"github.com/khdc-me/twine/upload"
)

// NewUpload creates the upload subcommand.
func NewUpload(logger log.Logger) *cobra.Command {
	var input settings.Input

	cmd := &cobra.Command{
		Use:   "upload [FLAGS] DIST [DIST ...]",
		Short: "Upload built distributions to a repository (package index)",
		Long: `Upload built distributions to a repository (package index).

Each DIST is a distribution file to upload, or a glob pattern expanding to
distribution files. Usually dist/* . A .asc file next to a distribution is
attached as its existing signature.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if input.Verbose {
				logger.EnableDebugLog(true)
			}

			envRepo := env.NewRepository()
			pathModifier := pathutil.NewPathModifier()

			resolved, err := settings.Resolve(input, envRepo, pathModifier)
			if err != nil {
				return err
			}

			uploader := upload.NewUploader(
				logger,
				pathutil.NewPathChecker(),
				pathModifier,
				command.NewFactory(envRepo),
				nil,
				nil,
			)
			return uploader.Upload(upload.UploadInput{
				Settings: resolved,
				Dists:    args,
			})
		},
	}

	settings.RegisterFlags(cmd.Flags(), &input)
	return cmd
}
