package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	jsonLogs bool
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:   "grantscout",
	Short: "Research-grant discovery pipeline",
	Long: `grantscout crawls candidate URLs, classifies them with a regex
funnel plus an LLM, extracts structured grant records and matches them
against recipient keyword profiles.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "emit JSON logs instead of console output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
