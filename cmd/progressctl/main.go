package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pharm-prep/backend/internal/auth"
	"github.com/pharm-prep/backend/internal/cache"
	"github.com/pharm-prep/backend/internal/config"
	"github.com/pharm-prep/backend/internal/database"
	"github.com/pharm-prep/backend/internal/gamification"

	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Operator tools for learner progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newUsersCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newResetHeartsCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// backend is the opened store plus whatever must be closed with it.
type backend struct {
	cfg    *config.Config
	policy gamification.Policy
	store  gamification.Store
	sql    *database.ProgressStore
	close  func() error
}

func openBackend(ctx context.Context, migrate bool) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	b := &backend{cfg: cfg, policy: policy}

	if cfg.StoreDriver == config.StoreDriverRedis {
		rcfg := cache.DefaultConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		rdb, err := cache.NewClient(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		b.store = cache.NewProgressStore(rdb)
		b.close = rdb.Close
		return b, nil
	}

	dialect := database.Postgres
	open := func() (*sql.DB, error) { return database.Connect(cfg.PostgresDSN()) }
	if cfg.StoreDriver == config.StoreDriverSQLite {
		dialect = database.SQLite
		open = func() (*sql.DB, error) { return database.OpenSQLite(cfg.SQLitePath) }
	}
	db, err := open()
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.Migrate(db, dialect); err != nil {
			db.Close()
			return nil, err
		}
	}
	b.sql = database.NewProgressStore(db, dialect)
	b.store = b.sql
	b.close = db.Close
	return b, nil
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

// withEngine loads the learner, runs fn and waits for the resulting write.
func withEngine(ctx context.Context, arg string, fn func(e *gamification.Engine) error) error {
	userID, err := parseUserID(arg)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, false)
	if err != nil {
		return err
	}
	defer b.close()

	e, err := gamification.NewEngine(ctx, userID, b.store, gamification.Options{Policy: b.policy})
	if err != nil {
		return err
	}
	runErr := fn(e)
	closeCtx, cancel := context.WithTimeout(ctx, b.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, e.Close(closeCtx))
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer b.close()
			if b.sql == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "redis store has no schema")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", b.cfg.StoreDriver)
			return nil
		},
	}
}

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List learners with stored progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer b.close()
			if b.sql == nil {
				return errors.New("users is only supported for SQL stores")
			}
			ids, err := b.sql.UserIDs(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a learner's progress snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), args[0], func(e *gamification.Engine) error {
				snap, err := e.Snapshot()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
}

func newResetHeartsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-hearts <user-id>",
		Short: "Restore a learner's hearts to full",
		Long: "Restore a learner's hearts to full.\n\n" +
			"A running server keeps the learner's progress in memory. Call\n" +
			"POST /api/v1/progress/teardown for the learner first, or the\n" +
			"server's next write replaces this change.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), args[0], func(e *gamification.Engine) error {
				if err := e.GrantFullHearts(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "hearts restored for user %d\n", e.UserID())
				return nil
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := auth.GenerateToken(userID, []byte(cfg.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
