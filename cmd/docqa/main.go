package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "docqa",
	Short:         "Question answering over a PDF document collection",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("server", "", "server base URL (default http://127.0.0.1:<server.port>)")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(ingestCmd, uploadCmd, documentsCmd)
	rootCmd.AddCommand(askCmd, chatCmd)
	rootCmd.AddCommand(interactionsCmd, collectionsCmd, configCmd)
}

func main() {
	// A .env file in the working directory feeds the DOCQA_* overrides.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		printWarning("could not read .env: %v", err)
	}

	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
