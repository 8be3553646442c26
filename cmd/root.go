package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	build      = "unknown"
)

// SetBuild records the build identifier injected via ldflags
func SetBuild(b string) {
	build = b
}

var rootCmd = &cobra.Command{
	Use:   "matrix-aibot",
	Short: "AI text and image generation bot for chat platforms",
	Long: `matrix-aibot relays txtai/picai commands from chat rooms to an
OpenAI-compatible API and posts the results back, keeping optional
per-channel conversation history in SQLite.

Platforms are enabled by whichever credential blocks are present in the
config file: Matrix (primary), Telegram, Discord.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: .aibot.yaml next to the executable)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
