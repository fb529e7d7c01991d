// Package commands is the temporad CLI: a cobra command tree whose
// PersistentPreRunE wires config, logging, snapshot store and engine once,
// before any subcommand runs.
package commands

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tempora-project/tempora/cmd/temporad/server"
	"github.com/tempora-project/tempora/internal/config"
	domaininterfaces "github.com/tempora-project/tempora/internal/domain/interfaces"
	domaintypes "github.com/tempora-project/tempora/internal/domain/types"
	"github.com/tempora-project/tempora/internal/engine"
	"github.com/tempora-project/tempora/internal/snapshot"
)

var (
	configPath string

	// wire holds the dependencies built in PersistentPreRunE, shared by
	// every subcommand.
	wire *appWire
)

type appWire struct {
	cfg    config.Config
	log    *zap.Logger
	engine *engine.Engine
	store  domaininterfaces.SnapshotStore
}

// Execute builds the command tree and runs it.
func Execute() error {
	root := &cobra.Command{
		Use:   "temporad",
		Short: "Time-bound ephemeral decryption server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			w, err := buildWire(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialising application: %w", err)
			}
			wire = w
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(encryptCmd())
	root.AddCommand(verifyCmd())
	root.AddCommand(statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}

func buildWire(ctx context.Context) (*appWire, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building snapshot store: %w", err)
	}

	masterKey := engine.DeriveMasterKey([]byte(cfg.MasterKeyMaterial))
	eng, err := engine.Bootstrap(ctx, store, masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("bootstrapping engine: %w", err)
	}

	return &appWire{cfg: cfg, log: log, engine: eng, store: store}, nil
}

func buildLogger(level string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zc.Level = lvl
	}
	return zc.Build()
}

func buildStore(ctx context.Context, cfg config.Config) (domaininterfaces.SnapshotStore, error) {
	switch cfg.SnapshotBackend {
	case "postgres":
		return snapshot.NewPostgresStore(ctx, cfg.PostgresDSN)
	case "file", "":
		return snapshot.NewFileStore(cfg.SnapshotPath), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}

// serveCmd runs the HTTP façade under an errgroup alongside a goroutine that
// shuts the server down when the context is canceled. It does not advance
// ticks itself; that is cmd/tickerd's job.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), wire)
		},
	}
}

func runServe(ctx context.Context, w *appWire) error {
	srv := server.New(w.engine, w.log, prometheus.DefaultRegisterer, w.cfg.AllowReset)
	httpSrv := srv.NewHTTPServer(w.cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.log.Info("listening", zap.String("addr", w.cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// tickCmd advances the shared engine by exactly one tick and persists the
// result — a one-shot, local equivalent of what cmd/tickerd does on a timer.
func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Advance the shared engine by one tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.engine.Tick(cmd.Context()); err != nil {
				return fmt.Errorf("advancing tick: %w", err)
			}
			current, _ := wire.engine.Status()
			fmt.Printf("current_t=%d\n", current)
			return nil
		},
	}
}

// encryptCmd is the CLI equivalent of POST /v1/encrypt: it never mutates
// persistent state, so it's safe to run against the same store a live
// temporad is serving from.
func encryptCmd() *cobra.Command {
	var start, end uint64
	var requestNonce string

	cmd := &cobra.Command{
		Use:   "encrypt <plaintext-hex>",
		Short: "Encrypt plaintext for release at the end of a tick window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("plaintext must be hex-encoded: %w", err)
			}
			if requestNonce == "" {
				return fmt.Errorf("--request-nonce is required")
			}

			bundle, err := wire.engine.EncryptForWindow(cmd.Context(), plaintext, domaintypes.Window{
				Start: domaintypes.Tick(start),
				End:   domaintypes.Tick(end),
			})
			if err != nil {
				return fmt.Errorf("encrypting for window [%d,%d]: %w", start, end, err)
			}

			fmt.Printf("ciphertext=%s\n", hex.EncodeToString(bundle.Ciphertext))
			fmt.Printf("nonce=%s\n", hex.EncodeToString(bundle.Nonce[:]))
			fmt.Printf("public_seed=%s\n", hex.EncodeToString(bundle.PublicSeed[:]))
			fmt.Printf("public_salt=%s\n", hex.EncodeToString(bundle.PublicSalt[:]))
			fmt.Printf("request_nonce=%s\n", requestNonce)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&start, "t-start", 0, "window start tick")
	cmd.Flags().Uint64Var(&end, "t-end", 0, "window end tick")
	cmd.Flags().StringVar(&requestNonce, "request-nonce", "", "opaque client correlation nonce, echoed back")
	_ = cmd.MarkFlagRequired("t-end")
	_ = cmd.MarkFlagRequired("request-nonce")

	return cmd
}

// verifyCmd is the CLI equivalent of POST /v1/verify: the one-shot release,
// so running it twice for the same window fails the second time by design.
func verifyCmd() *cobra.Command {
	var start, end uint64
	var requestNonce string

	cmd := &cobra.Command{
		Use:   "verify <checksum-hex>",
		Short: "Submit a window checksum and release the final keying material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checksumBytes, err := hex.DecodeString(args[0])
			if err != nil || len(checksumBytes) != 32 {
				return fmt.Errorf("checksum must be 32 bytes of hex")
			}
			if requestNonce == "" {
				return fmt.Errorf("--request-nonce is required")
			}
			var checksum [32]byte
			copy(checksum[:], checksumBytes)

			released, err := wire.engine.VerifyAndRelease(cmd.Context(), checksum, domaintypes.Window{
				Start: domaintypes.Tick(start),
				End:   domaintypes.Tick(end),
			})
			if err != nil {
				return fmt.Errorf("verifying window [%d,%d]: %w", start, end, err)
			}

			fmt.Printf("k_public=%s\n", hex.EncodeToString(released.KPublic[:]))
			fmt.Printf("k_private=%s\n", hex.EncodeToString(released.KPrivate[:]))
			fmt.Printf("request_nonce=%s\n", requestNonce)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&start, "t-start", 0, "window start tick")
	cmd.Flags().Uint64Var(&end, "t-end", 0, "window end tick")
	cmd.Flags().StringVar(&requestNonce, "request-nonce", "", "opaque client correlation nonce, echoed back")
	_ = cmd.MarkFlagRequired("t-end")
	_ = cmd.MarkFlagRequired("request-nonce")

	return cmd
}

// statusCmd is the CLI equivalent of GET /v1/status.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine's current tick and public chain length",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, histLen := wire.engine.Status()
			fmt.Printf("current_t=%d public_history_len=%d\n", current, histLen)
			return nil
		},
	}
}
