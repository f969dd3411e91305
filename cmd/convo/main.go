// Convo runs multimodal conversation turns over pluggable LLM backends.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convo",
	Short: "Convo runs ordered multimodal conversations over pluggable LLM backends.",
	Long: `Convo carries conversation turns to a mock, Ollama or OpenAI-compatible
backend. Each turn is an ordered sequence of text, image and JSON blocks;
histories live in memory and export to timestamped JSON files on demand.`,
	RunE:          runChat, // Default to the interactive REPL.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(chatCmd, serveCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
