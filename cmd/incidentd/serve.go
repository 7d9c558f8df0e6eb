package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/api"
	"github.com/bprzybys-nc/manager-sub001/chat"
	"github.com/bprzybys-nc/manager-sub001/engine"
	"github.com/bprzybys-nc/manager-sub001/executor"
	"github.com/bprzybys-nc/manager-sub001/oracle"
	"github.com/bprzybys-nc/manager-sub001/oracle/gemini"
	"github.com/bprzybys-nc/manager-sub001/oracle/openai"
	"github.com/bprzybys-nc/manager-sub001/store"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
	mongostore "github.com/bprzybys-nc/manager-sub001/store/mongo"
	"github.com/bprzybys-nc/manager-sub001/store/postgres"
	redisstore "github.com/bprzybys-nc/manager-sub001/store/redis"
)

func newServeCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the worker pool and the stale sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run store migrations before starting")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	st, closeStores, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	if migrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", manager.ErrMigrationFailed, err)
		}
	}

	eng, err := a.buildEngine(ctx, st)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.New(eng, api.WithToken(a.cfg.Server.Token), api.WithLogger(a.logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.logger.Info("incidentd started",
		slog.String("addr", srv.Addr),
		slog.String("store", a.cfg.Store.Driver),
		slog.String("oracle", a.cfg.Oracle.Provider),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return eng.Stop(shutdownCtx)
	})
	err = g.Wait()
	a.logger.Info("incidentd stopped")
	return err
}

// openStore opens the configured backend. With redis.queue the job queue
// and cron locks move to Redis while the rest stays on the backend.
func (a *app) openStore(ctx context.Context) (store.Store, func(), error) {
	cfg := a.cfg
	var (
		st      store.Store
		closers []func()
	)
	switch cfg.Store.Driver {
	case "memory":
		st = memory.New()
	case "postgres":
		pg, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(a.logger))
		if err != nil {
			return nil, nil, err
		}
		st = pg
	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.Store.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		closers = append(closers, func() { _ = client.Disconnect(context.Background()) })
		st = mongostore.New(client.Database(cfg.Store.Database), mongostore.WithLogger(a.logger))
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err := st.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("store ping: %w", err)
	}
	closeAll := func() {
		_ = st.Close()
		for _, c := range closers {
			c()
		}
	}
	return st, closeAll, nil
}

func (a *app) redisClient() *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}

func (a *app) buildEngine(ctx context.Context, st store.Store) (*engine.Engine, error) {
	cfg := a.cfg
	m, err := manager.New(
		manager.WithStore(st),
		manager.WithConfig(cfg.managerConfig()),
		manager.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	orc, err := a.newOracle()
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{engine.WithOracle(orc)}

	if cfg.Chat.WebhookURL != "" {
		opts = append(opts, engine.WithChannel(chat.NewWebhook(cfg.Chat.WebhookURL, nil)))
	} else {
		a.logger.Warn("no chat webhook configured; approvals must be answered over the API")
		opts = append(opts, engine.WithChannel(chat.Discard{}), engine.WithGateway(apiOnlyGateway{logger: a.logger}))
	}
	if cfg.Executor.Endpoint != "" {
		opts = append(opts, engine.WithDispatcher(executor.NewHTTP(cfg.Executor.Endpoint, st, executor.WithHTTPLogger(a.logger))))
	}

	if cfg.Redis.Addr != "" && (cfg.Redis.Queue || cfg.Redis.Lock) {
		rdb := a.redisClient()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		if cfg.Redis.Queue {
			opts = append(opts, engine.WithJobStore(redisstore.New(rdb, redisstore.WithLogger(a.logger))))
		}
		if cfg.Redis.Lock {
			opts = append(opts, engine.WithLocker(redisstore.NewLocker(rdb, redisstore.WithLockLogger(a.logger))))
		}
	}
	return engine.Build(m, opts...)
}

func (a *app) newOracle() (oracle.Oracle, error) {
	cfg := a.cfg.Oracle
	switch cfg.Provider {
	case "openai":
		client := func(model string) *openai.Client {
			opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
			if cfg.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
			}
			if model != "" {
				opts = append(opts, openai.WithModel(model))
			}
			return openai.New(opts...)
		}
		var mopts []oracle.ModelOption
		if cfg.AdvancedModel != "" {
			mopts = append(mopts, oracle.WithAdvanced(client(cfg.AdvancedModel)))
		}
		return oracle.NewModel(client(cfg.Model), mopts...), nil
	case "gemini":
		client := func(model string) *gemini.Client {
			var opts []gemini.Option
			if cfg.Project != "" {
				opts = append(opts, gemini.WithVertex(cfg.Project, cfg.Location))
			} else {
				opts = append(opts, gemini.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
			}
			if model != "" {
				opts = append(opts, gemini.WithModel(model))
			}
			return gemini.New(opts...)
		}
		var mopts []oracle.ModelOption
		if cfg.AdvancedModel != "" {
			mopts = append(mopts, oracle.WithAdvanced(client(cfg.AdvancedModel)))
		}
		return oracle.NewModel(client(cfg.Model), mopts...), nil
	}
	return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
}

// apiOnlyGateway records that a question exists without delivering it
// anywhere. Operators list and answer questions through the API.
type apiOnlyGateway struct {
	logger *slog.Logger
}

func (g apiOnlyGateway) Ask(_ context.Context, correlationID, _, text string) error {
	g.logger.Info("approval pending",
		slog.String("correlation_id", correlationID),
		slog.String("question", text),
	)
	return nil
}
