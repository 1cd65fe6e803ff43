package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand собирает корневую команду. Без подкоманды запускается сервер.
func NewRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "fodetect",
		Short: "Foreign object detection web service",
		Long: `fodetect accepts images from authenticated administrators, runs a
pretrained detection model over them and keeps an auditable history with
annotated images and PDF reports.

Configuration is read from the environment; an optional .env file is loaded first.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file (missing file is ignored)")

	serve := NewServeCommand(&envFile)
	root.AddCommand(serve)
	root.AddCommand(NewAddAdminCommand(&envFile))
	root.AddCommand(NewAuditCommand(&envFile))

	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
