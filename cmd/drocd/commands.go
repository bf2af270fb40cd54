package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // For pprof profiling

	"droc_go/internal/app"
	"droc_go/internal/engine"
	"droc_go/internal/event"
	"droc_go/internal/infra"
	"droc_go/internal/storage"

	"github.com/spf13/cobra"
)

const journalPage = 1000

// NewRootCommand builds the drocd command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "drocd",
		Short:         "Resting-order commitment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: configs/config.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return infra.ResolveConfigPath()
	}

	root.AddCommand(
		newServeCommand(resolve),
		newJournalCommand(resolve),
		newVersionCommand(),
	)
	return root
}

func newServeCommand(configPath func() string) *cobra.Command {
	var pprofAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if pprofAddr != "" {
				go func() {
					slog.Info("🕵️ Pprof server started", slog.String("addr", pprofAddr))
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						slog.Error("Pprof server failed", slog.Any("error", err))
					}
				}()
			}

			b := app.NewBootstrap(configPath())
			defer b.Close()
			if err := b.Initialize(ctx); err != nil {
				slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
				return err
			}
			return b.Run(ctx)
		},
	}
	// Localhost only for security
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "pprof listen address, e.g. localhost:6060")
	return cmd
}

func newJournalCommand(configPath func() string) *cobra.Command {
	var (
		dbPath string
		from   uint64
		limit  int
		dump   bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Verify the event journal and print statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := infra.LoadConfig(configPath())
				if err != nil {
					return err
				}
				dbPath = infra.ResolveDataPath(infra.GetWorkspaceDir(), cfg.Storage.JournalPath)
			}

			st, err := storage.NewEventStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := verifyJournal(cmd, st, from, limit, dump)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "journal database (default: storage.journal_path)")
	cmd.Flags().Uint64Var(&from, "from", 1, "first sequence to replay")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to replay (0 = all)")
	cmd.Flags().BoolVar(&dump, "dump", false, "print every replayed event")
	return cmd
}

// verifyJournal replays events in order through a fresh sequencer, which
// halts on any gap.
func verifyJournal(cmd *cobra.Command, st *storage.EventStore, from uint64, limit int, dump bool) (stats engine.Stats, err error) {
	if from == 0 {
		from = 1
	}
	seq := engine.NewSequencer(1, replayJournal(from-1), nil, slog.Default())
	if err := seq.Restore(cmd.Context()); err != nil {
		return engine.Stats{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("journal verification failed: %v", r)
		}
	}()

	next, replayed := from, 0
	for limit <= 0 || replayed < limit {
		page := journalPage
		if limit > 0 && limit-replayed < page {
			page = limit - replayed
		}
		events, err := st.LoadEvents(cmd.Context(), next, page)
		if err != nil {
			return engine.Stats{}, err
		}
		for _, ev := range events {
			seq.ReplayEvent(ev)
			if dump {
				if err := writeCompact(cmd.OutOrStdout(), ev); err != nil {
					return engine.Stats{}, err
				}
			}
		}
		replayed += len(events)
		if len(events) < page {
			break
		}
		next = events[len(events)-1].GetSeq() + 1
	}
	return seq.Stats(), nil
}

// replayJournal positions a verifying sequencer just before the first
// replayed event. Replay never writes.
type replayJournal uint64

func (r replayJournal) SaveEvent(context.Context, event.Event) error {
	return errors.New("journal replay is read-only")
}

func (r replayJournal) GetLastSeq(context.Context) (uint64, error) { return uint64(r), nil }

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "drocd", version)
		},
	}
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCompact(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
