package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
	"github.com/spf13/cobra"
)

// commandContext carries the flags shared by every subcommand.
type commandContext struct {
	configPath  string
	input       string
	scope       string
	title       string
	description string
	tags        []string
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "loqa-dub",
		Short:         "Translate and dub timed transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path (defaults plus LOQA_DUB_* env when empty)")
	flags.StringVarP(&ctx.input, "in", "i", "transcript.json", "Transcript JSON file")
	flags.StringVar(&ctx.scope, "scope", "", "Scope used to name chunks (defaults to the input file name)")
	flags.StringVar(&ctx.title, "title", "", "Video title passed to the llm translator")
	flags.StringVar(&ctx.description, "description", "", "Video description passed to the llm translator")
	flags.StringSliceVar(&ctx.tags, "tags", nil, "Video tags passed to the llm translator")

	rootCmd.AddCommand(newDubCommand(ctx))
	rootCmd.AddCommand(newTranslateCommand(ctx))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	})

	return rootCmd
}

func (c *commandContext) video() translate.VideoContext {
	var tags []string
	for _, tag := range c.tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return translate.VideoContext{Title: c.title, Description: c.description, Tags: tags}
}

// load reads configuration and the input transcript. Logs go to stderr so
// stdout stays free for command output.
func (c *commandContext) load() (config.Config, *slog.Logger, []transcript.Entry, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()}))

	data, err := os.ReadFile(c.input)
	if err != nil {
		return cfg, logger, nil, fmt.Errorf("read transcript: %w", err)
	}
	var entries []transcript.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return cfg, logger, nil, fmt.Errorf("decode transcript: %w", err)
	}
	return cfg, logger, entries, nil
}
