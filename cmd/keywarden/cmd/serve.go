package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	inboundhttp "github.com/keywarden/keywarden/internal/adapter/inbound/http"
	"github.com/keywarden/keywarden/internal/adapter/outbound/cel"
	"github.com/keywarden/keywarden/internal/adapter/outbound/memory"
	"github.com/keywarden/keywarden/internal/adapter/outbound/sqlite"
	"github.com/keywarden/keywarden/internal/adapter/outbound/state"
	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/domain/account"
	"github.com/keywarden/keywarden/internal/domain/organization"
	"github.com/keywarden/keywarden/internal/domain/policy"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/telemetry"
)

// passphraseEnv is where the serve command reads the vault passphrase for
// the file driver. A flag would leak the passphrase into process listings.
const passphraseEnv = "KEYWARDEN_PASSPHRASE"

var serveUser string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy service",
	Long: `Start the Keywarden policy service.

With --user, the named account is activated and unlocked at startup so
the REST API serves its policies. For the file store driver the vault
passphrase is read from the ` + passphraseEnv + ` environment variable;
a missing account is created on first use.

Without --user the service starts with no active account and the policy
snapshot stays empty until an account is activated.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveUser, "user", "", "account id to activate and unlock at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	if used := config.ConfigFileUsed(); used != "" {
		logger.Info("config loaded", "file", used)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, "keywarden", Version, logger)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	accounts := account.NewSignal()

	store, err := buildStore(ctx, cfg, accounts, logger)
	if err != nil {
		return err
	}

	orgs, err := buildOrgProvider(cfg)
	if err != nil {
		return err
	}

	filters, err := cel.NewFilterEvaluator()
	if err != nil {
		return fmt.Errorf("create filter evaluator: %w", err)
	}

	svc := service.NewPolicyService(ctx, store, orgs, accounts, logger)
	defer svc.Close()

	if serveUser != "" {
		accounts.SetActive(serveUser)
		accounts.SetUnlocked(true)
		logger.Info("account activated", "user_id", serveUser)
	}

	server := inboundhttp.NewServer(svc, filters,
		inboundhttp.WithAddr(cfg.Server.HTTPAddr),
		inboundhttp.WithSecretHash(cfg.Auth.APISecretHash),
		inboundhttp.WithLogger(logger),
	)
	return server.Start(ctx)
}

// buildStore constructs the configured policy store and subscribes it to
// account transitions, so the store's session state always reflects the
// signal before the policy service recomputes its snapshot.
func buildStore(ctx context.Context, cfg *config.Config, accounts *account.Signal, logger *slog.Logger) (policy.Store, error) {
	switch cfg.Store.Driver {
	case "file":
		store := state.NewFileStore(cfg.Store.Path, logger)
		passphrase := os.Getenv(passphraseEnv)

		accounts.Subscribe(func(st account.State) {
			store.SetActive(st.UserID)
			switch {
			case st.UserID == "":
			case st.Unlocked:
				if store.Unlocked(st.UserID) {
					return
				}
				err := store.Unlock(context.Background(), st.UserID, passphrase)
				if errors.Is(err, state.ErrUnknownAccount) {
					if err := store.CreateAccount(context.Background(), st.UserID, passphrase); err != nil {
						logger.Error("create account failed", "user_id", st.UserID, "error", err)
						return
					}
					err = store.Unlock(context.Background(), st.UserID, passphrase)
				}
				if err != nil {
					logger.Error("unlock failed", "user_id", st.UserID, "error", err)
				}
			default:
				store.Lock(st.UserID)
			}
		})

		if serveUser != "" && passphrase == "" {
			return nil, fmt.Errorf("file store: %s must be set to unlock the vault", passphraseEnv)
		}
		return store, nil

	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Store.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		accounts.Subscribe(func(st account.State) {
			store.SetActive(st.UserID)
			if st.UserID != "" {
				store.SetUnlocked(st.UserID, st.Unlocked)
			}
		})
		return store, nil

	case "memory":
		store := memory.NewPolicyStore()
		accounts.Subscribe(func(st account.State) {
			store.SetActive(st.UserID)
			if st.UserID != "" {
				store.SetUnlocked(st.UserID, st.Unlocked)
			}
		})
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildOrgProvider loads the membership fixture when configured, or an
// empty provider otherwise.
func buildOrgProvider(cfg *config.Config) (organization.Provider, error) {
	if cfg.Orgs.MembershipsFile == "" {
		return memory.NewOrgProvider(), nil
	}
	provider, err := memory.LoadOrgProviderFromFile(cfg.Orgs.MembershipsFile)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	return provider, nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
