package main

import (
	"github.com/spf13/cobra"

	"webrs/internal/version"
)

// configPath is the --config flag shared by all subcommands.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "webrs",
	Short: "webrs - minimal HTTP/1.1 server",
	Long: `webrs serves static content and a small set of API handlers over plain
HTTP/1.1 with keep-alive and zstd, brotli or gzip response compression.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Full())
	},
}

func init() {
	rootCmd.SetVersionTemplate("webrs version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ./webrs.{json,toml,yaml} when present)")
	rootCmd.AddCommand(versionCmd)
}
