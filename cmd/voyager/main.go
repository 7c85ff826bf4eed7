package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"voyager-backend/internal/config"
	"voyager-backend/internal/controller"
	"voyager-backend/internal/db"
	"voyager-backend/internal/history"
	"voyager-backend/internal/server"
	"voyager-backend/internal/session"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("voyager failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	root := &cobra.Command{
		Use:           "voyager",
		Short:         "Voice and chat travel assistant backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			setupLogging(cfg.LogLevel, cfg.LogFormat)
		},
	}
	root.AddCommand(
		newServeCmd(&cfg),
		newMigrateCmd(&cfg),
		newHistoryCmd(&cfg),
		newAskCmd(&cfg),
	)
	return root
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and voice websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	sessions := controller.NewManager(a.ctrl, cfg.SessionTTL)
	a.srv.Sessions = sessions
	s, err := server.NewServer(cfg, a.srv)
	if err != nil {
		sessions.Close()
		a.close(context.Background())
		return errors.Wrap(err, "create server")
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sessions.Run(sweepCtx, time.Minute)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("history", cfg.HistoryBackend).Bool("ingest", a.ingest.Enabled()).Msg("voyager server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("http shutdown")
	}
	stopSweep()
	sessions.Close()
	a.close(shutdownCtx)

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL history schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			var dialect db.Dialect
			var dsn string
			switch cfg.HistoryBackend {
			case config.BackendPostgres:
				dialect, dsn = db.Postgres, cfg.DatabaseURL
			case config.BackendSQLite:
				dialect, dsn = db.SQLite, cfg.DBPath
			default:
				return errors.Errorf("history backend %q has no SQL schema", cfg.HistoryBackend)
			}
			database, err := db.Open(dialect, dsn)
			if err != nil {
				return errors.Wrap(err, "open history database")
			}
			defer database.Close()
			if err := database.RunMigrations(cmd.Context(), db.Migrations); err != nil {
				return err
			}
			log.Info().Str("dialect", string(dialect)).Msg("migrations applied")
			return nil
		},
	}
}

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	var (
		userID string
		kind   string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a user's most recent history records as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := history.Kind(kind)
			if !k.Valid() {
				return errors.Errorf("kind must be search, message or view, got %q", kind)
			}
			store, _, err := openStore(cmd.Context(), *cfg, false)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			recs, err := store.Recent(cmd.Context(), userID, k, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&kind, "kind", string(history.KindSearch), "record kind: search, message or view")
	cmd.Flags().IntVar(&limit, "limit", history.MaxRecent, "maximum records")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newAskCmd(cfg *config.Config) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one typed turn and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if userID == "" {
				userID = "cli"
			}
			ctrl := controller.New("cli_"+uuid.NewString(), userID, a.ctrl)
			defer ctrl.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 90*time.Second)
			defer cancel()
			reply, err := ctrl.Submit(ctx, controller.UtteranceReceived{
				Text:   strings.Join(args, " "),
				Source: session.SourceTyped,
			})
			if err != nil {
				return err
			}
			printTurn(cmd, reply.Turn)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id for history (default \"cli\")")
	return cmd
}

func printTurn(cmd *cobra.Command, t *session.Turn) {
	out := cmd.OutOrStdout()
	if t == nil {
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", t.Intent, t.Assistant)
	for i, r := range t.Results {
		line := fmt.Sprintf("%d. %s", i+1, r.Title)
		if r.Subtitle != "" {
			line += " | " + r.Subtitle
		}
		if r.Price != "" {
			line += " | " + r.Price
		}
		if r.URL != "" {
			line += " | " + r.URL
		}
		fmt.Fprintln(out, line)
	}
	for _, n := range t.Notices {
		fmt.Fprintln(out, "! "+n)
	}
}
