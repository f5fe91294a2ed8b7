package main

import (
	"encoding/json"
	"os"

	"github.com/loqalabs/loqa-dub/internal/pipeline"
	"github.com/loqalabs/loqa-dub/internal/translate"
	"github.com/spf13/cobra"
)

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a transcript inline and print it with text_translated attached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, entries, err := ctx.load()
			if err != nil {
				return err
			}
			translator, err := translate.FromConfig(cfg.Translator, ctx.video())
			if err != nil {
				return err
			}
			translated, err := pipeline.Translate(cmd.Context(), translator, pipeline.SettingsFromConfig(cfg), entries)
			if err != nil {
				return err
			}
			if output == "" {
				return writeJSON(cmd, translated)
			}
			data, err := json.MarshalIndent(translated, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "File receiving the translated transcript (stdout when empty)")
	return cmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
