package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/loqalabs/loqa-dub/internal/bus"
	"github.com/loqalabs/loqa-dub/internal/config"
	"github.com/loqalabs/loqa-dub/internal/eventstore"
	"github.com/loqalabs/loqa-dub/internal/natsserver"
	"github.com/loqalabs/loqa-dub/internal/pipeline"
	"github.com/loqalabs/loqa-dub/internal/transcript"
	"github.com/loqalabs/loqa-dub/internal/translate"
	"github.com/loqalabs/loqa-dub/internal/tts"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const lockName = ".loqa-dub.lock"

func newDubCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "dub",
		Short: "Run the full pipeline and write one audio file per chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, entries, err := ctx.load()
			if err != nil {
				return err
			}
			scope := ctx.scope
			if scope == "" {
				scope = strings.TrimSuffix(filepath.Base(ctx.input), filepath.Ext(ctx.input))
			}

			if err := os.MkdirAll(output, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			lock := flock.New(filepath.Join(output, lockName))
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire output lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another dub run is writing to %s", output)
			}
			defer func() { _ = lock.Unlock() }()

			result, runErr := runDub(cmd.Context(), cfg, logger, ctx.video(), scope, entries)
			if runErr != nil && !errors.Is(runErr, pipeline.ErrDeadline) {
				return runErr
			}

			for _, chunk := range result.Chunks {
				path := filepath.Join(output, chunk.ChunkID+"."+cfg.TTS.OutputFormat)
				if err := os.WriteFile(path, chunk.Audio, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
			}
			logger.Info("dub finished",
				slog.String("run_id", result.RunID),
				slog.Int("chunks", len(result.Chunks)),
				slog.Int("missing", len(result.Missing)),
				slog.String("out", output))

			if err := printSummary(cmd, result, jsonMode); err != nil {
				return err
			}
			if len(result.Missing) > 0 {
				return fmt.Errorf("%d chunk(s) produced no audio: %s", len(result.Missing), strings.Join(result.Missing, ", "))
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "dub-out", "Directory receiving one audio file per chunk")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Print the run summary as JSON")
	return cmd
}

// runDub wires the store, recorder and backends for one orchestrated run. A
// nats store backend brings up the configured bus for the duration of the run.
func runDub(ctx context.Context, cfg config.Config, logger *slog.Logger, video translate.VideoContext, scope string, entries []transcript.Entry) (pipeline.Result, error) {
	var client *bus.Client
	if cfg.Store.Backend == "nats" {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return pipeline.Result{}, err
		}
		defer embedded.Shutdown()
		busCfg := cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		client, err = bus.Connect(ctx, busCfg, logger)
		if err != nil {
			return pipeline.Result{}, err
		}
		defer client.Close()
	}
	store, err := bus.Open(ctx, cfg.Store, client)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer store.Close()

	events, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer events.Close()

	translator, err := translate.FromConfig(cfg.Translator, video)
	if err != nil {
		return pipeline.Result{}, err
	}
	synth, err := tts.FromConfig(cfg.TTS)
	if err != nil {
		return pipeline.Result{}, err
	}
	speaker := tts.NewService(cfg.TTS, synth, logger)

	orch := pipeline.NewOrchestrator(store, translator, speaker, pipeline.SettingsFromConfig(cfg), events, logger)
	return orch.Run(ctx, scope, entries)
}

type chunkSummary struct {
	ChunkID string `json:"chunk_id"`
	State   string `json:"state"`
	Bytes   int    `json:"bytes"`
}

type runSummary struct {
	RunID   string         `json:"run_id"`
	Chunks  []chunkSummary `json:"chunks"`
	Missing []string       `json:"missing,omitempty"`
}

func summarize(result pipeline.Result) runSummary {
	summary := runSummary{RunID: result.RunID, Missing: result.Missing}
	for _, chunk := range result.Chunks {
		summary.Chunks = append(summary.Chunks, chunkSummary{
			ChunkID: chunk.ChunkID,
			State:   string(result.States[chunk.ChunkID]),
			Bytes:   len(chunk.Audio),
		})
	}
	for _, id := range result.Missing {
		summary.Chunks = append(summary.Chunks, chunkSummary{ChunkID: id, State: string(result.States[id])})
	}
	return summary
}

func printSummary(cmd *cobra.Command, result pipeline.Result, jsonMode bool) error {
	summary := summarize(result)
	if jsonMode || !isTerminal(cmd.OutOrStdout()) {
		return writeJSON(cmd, summary)
	}
	rows := make([][]string, 0, len(summary.Chunks))
	for _, chunk := range summary.Chunks {
		size := "-"
		if chunk.Bytes > 0 {
			size = humanize.Bytes(uint64(chunk.Bytes))
		}
		rows = append(rows, []string{chunk.ChunkID, chunk.State, size})
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Chunk", "State", "Audio"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return err
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
