package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/flocksync/internal/adapter"
	"github.com/dropDatabas3/flocksync/internal/adapter/pco"
	"github.com/dropDatabas3/flocksync/internal/cache"
	cachemem "github.com/dropDatabas3/flocksync/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/flocksync/internal/cache/redis"
	"github.com/dropDatabas3/flocksync/internal/config"
	"github.com/dropDatabas3/flocksync/internal/httpapi"
	"github.com/dropDatabas3/flocksync/internal/metrics"
	"github.com/dropDatabas3/flocksync/internal/notify"
	"github.com/dropDatabas3/flocksync/internal/observability/logger"
	"github.com/dropDatabas3/flocksync/internal/ratelimit"
	"github.com/dropDatabas3/flocksync/internal/store"
	"github.com/dropDatabas3/flocksync/internal/store/core"
	"github.com/dropDatabas3/flocksync/internal/token"
	"github.com/dropDatabas3/flocksync/internal/webhook"
	"github.com/dropDatabas3/flocksync/internal/workflow"
)

var (
	cfgPath string
	envFile string
)

func main() {
	root := &cobra.Command{
		Use:          "flocksync",
		Short:        "Sync engine entre el sistema local y ChMS externos",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "ruta del config YAML")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "archivo .env (opcional)")

	root.AddCommand(serveCmd(), syncCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig carga .env (si existe), el YAML y arranca el logger.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile) // opcional: sin .env se usa el entorno
	}
	path := cfgPath
	if _, err := os.Stat(path); err != nil {
		path = "" // sin YAML: defaults + env
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "flocksync",
	})
	// secretbox lee la clave maestra del entorno; el YAML es sólo otra
	// forma de proveerla.
	if cfg.Security.SecretBoxMasterKey != "" && os.Getenv("SECRETBOX_MASTER_KEY") == "" {
		_ = os.Setenv("SECRETBOX_MASTER_KEY", cfg.Security.SecretBoxMasterKey)
	}
	return cfg, nil
}

// buildCacheLayer arma el cache compartido y el contador del rate limiter
// sobre el mismo backend. Con redis el presupuesto de rate se comparte entre
// procesos; memory sólo vale single-process.
func buildCacheLayer(cfg *config.Config) (cache.Cache, ratelimit.CounterStore, error) {
	switch cfg.Cache.Kind {
	case "redis":
		client := cacheredis.NewClient(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB)
		return cacheredis.New(client, cfg.Cache.Redis.Prefix),
			ratelimit.NewRedisCounterStore(client, cfg.Cache.Redis.Prefix), nil
	case "memory", "":
		return cachemem.New(cfg.MemoryCacheTTL()), ratelimit.NewMemoryCounterStore(), nil
	default:
		return nil, nil, fmt.Errorf("cache.kind desconocido %q", cfg.Cache.Kind)
	}
}

func buildRegistry(cfg *config.Config) (*adapter.Registry, error) {
	reg := adapter.NewRegistry()
	if cfg.Adapters.PCO.Enabled {
		a := pco.New(pco.Config{
			ClientID:      cfg.Adapters.PCO.ClientID,
			ClientSecret:  cfg.Adapters.PCO.ClientSecret,
			BaseURL:       cfg.Adapters.PCO.BaseURL,
			TokenEndpoint: cfg.Adapters.PCO.TokenEndpoint,
		}, nil)
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type wiring struct {
	cfg          *config.Config
	store        core.Store
	registry     *adapter.Registry
	orchestrator *workflow.Orchestrator
	dispatcher   *webhook.Dispatcher
}

// buildWiring arma el grafo completo del servicio.
func buildWiring(ctx context.Context) (*wiring, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, st); err != nil {
		st.Close()
		return nil, err
	}

	c, counters, err := buildCacheLayer(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	limiter := ratelimit.New(counters, cfg.RateTolerance())
	tokens := token.NewManager(st, limiter, reg)

	engine := workflow.NewEngine(st, workflow.RetryPolicy{
		Attempts: cfg.Sync.ActivityAttempts,
		Backoff:  cfg.ActivityBackoff(),
	}, cfg.IdempotencyWindow())

	if cfg.SMTP.Enabled {
		engine.SetNotifier(&notify.SMTPNotifier{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			From:               cfg.SMTP.From,
			To:                 cfg.SMTP.To,
			User:               cfg.SMTP.Username,
			Pass:               cfg.SMTP.Password,
			TLSMode:            cfg.SMTP.TLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
	} else {
		engine.SetNotifier(notify.LogNotifier{})
	}

	orch := &workflow.Orchestrator{
		Engine:   engine,
		Registry: reg,
		Store:    st,
		Tokens:   tokens,
		Limiter:  limiter,
		Buckets:  ratelimit.NewBuckets(c),
	}
	if err := orch.RegisterBuckets(); err != nil {
		st.Close()
		return nil, err
	}

	disp := &webhook.Dispatcher{
		Verifier:     &webhook.Verifier{Store: st},
		Registry:     reg,
		Engine:       engine,
		Store:        st,
		Puller:       orch,
		BootstrapKey: cfg.Webhook.BootstrapKey,
	}

	if err := metrics.Register(nil); err != nil {
		st.Close()
		return nil, err
	}

	return &wiring{cfg: cfg, store: st, registry: reg, orchestrator: orch, dispatcher: disp}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servicio HTTP (webhooks + admin + métricas)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := buildWiring(ctx)
			if err != nil {
				return err
			}
			defer w.store.Close()

			srv := &httpapi.Server{
				Addr:         w.cfg.Server.Addr,
				Dispatcher:   w.dispatcher,
				Orchestrator: w.orchestrator,
				Store:        w.store,
				AdminSecret:  w.cfg.Admin.JWTSecret,
			}
			return srv.Start(ctx)
		},
	}
}

func syncCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "sync <adapter> [entity]",
		Short: "Corre un bulk sync (o el pull de una entidad) y termina",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("falta --org")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := buildWiring(ctx)
			if err != nil {
				return err
			}
			defer w.store.Close()

			adapterName := args[0]
			if len(args) == 2 {
				return w.orchestrator.Pull(ctx, adapterName, orgID, args[1])
			}
			return w.orchestrator.BulkSync(ctx, adapterName, orgID)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organización a sincronizar")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas y termina",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := store.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := store.Migrate(ctx, st); err != nil {
				return err
			}
			logger.L().Info("migrations applied")
			return nil
		},
	}
}
