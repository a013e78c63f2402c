package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/marketlive/internal/api"
	"github.com/charlesng35/marketlive/internal/app"
	"github.com/charlesng35/marketlive/internal/backend"
	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/internal/chat"
	"github.com/charlesng35/marketlive/internal/clientstate"
	"github.com/charlesng35/marketlive/internal/database"
	"github.com/charlesng35/marketlive/internal/jobs"
	"github.com/charlesng35/marketlive/internal/monitoring"
	"github.com/charlesng35/marketlive/internal/monitoring/checks"
	"github.com/charlesng35/marketlive/internal/notifications"
	"github.com/charlesng35/marketlive/internal/realtime"
	"github.com/charlesng35/marketlive/internal/services"
	"github.com/charlesng35/marketlive/internal/transport"
	"github.com/charlesng35/marketlive/pkg/crypto"
)

const healthTimeout = 3 * time.Second

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Store     cache.Store
	Live      *services.LiveService
	Scheduler *jobs.Scheduler
	Router    *gin.Engine
}

// bootstrapRuntime opens the state store, wires the stores and live service, and builds the router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Store, stack.DB, err = openStateStore(ctx, cfg.State, log)
	if err != nil {
		return nil, err
	}

	stateOpts := []clientstate.Option{clientstate.WithTokenTTL(cfg.State.TokenTTL)}
	if key := strings.TrimSpace(cfg.State.EncryptionKey); key != "" {
		sealer, err := crypto.NewSealer([]byte(key), crypto.DefaultArgon2Params())
		if err != nil {
			return nil, fmt.Errorf("initialise state encryption: %w", err)
		}
		stateOpts = append(stateOpts, clientstate.WithCipher(sealer))
	}

	state, err := clientstate.New(stack.Store, stateOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise client state: %w", err)
	}

	client, err := backend.NewClient(cfg.Backend.BaseURL, state,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithRateLimit(cfg.Backend.RequestsPerSecond, cfg.Backend.Burst),
		backend.WithScope(cfg.Notifications.Scope),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise backend client: %w", err)
	}

	notes, err := notifications.NewStore(client,
		notifications.WithLimit(cfg.Notifications.ListLimit),
		notifications.WithFetchSize(cfg.Notifications.FetchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise notification store: %w", err)
	}

	session, err := chat.NewSession(client, state,
		chat.WithSendDestination(cfg.Realtime.SendDestination),
		chat.WithMaxLength(cfg.Chat.MaxMessageLength),
		chat.WithPageSize(cfg.Chat.HistoryPageSize),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise chat session: %w", err)
	}

	hub := realtime.NewHub()

	stack.Live, err = services.NewLiveService(services.LiveConfig{
		State:         state,
		Notifications: notes,
		Chat:          session,
		Hub:           hub,
		Factory:       adapterFactory(cfg.Realtime, state),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise live service: %w", err)
	}
	if err := stack.Live.Start(ctx); err != nil {
		return nil, fmt.Errorf("start live service: %w", err)
	}

	stack.Scheduler = jobs.New(
		jobs.WithUnreadPoll(notes, stack.Live, cfg.Notifications.PollSchedule),
		jobs.WithStatePurge(stack.Store, cfg.State.PurgeSchedule),
	)
	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start background jobs: %w", err)
	}

	health := monitoring.NewHealthManager(healthTimeout)
	health.Register(checks.StateStore(stack.Store))
	health.Register(checks.Transport(stack.Live))

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		Live:          stack.Live,
		Notifications: notes,
		Chat:          session,
		Hub:           hub,
		Health:        health,
		RateStore:     stack.Store,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// adapterFactory builds one STOMP adapter per channel, or returns nil when realtime is off.
func adapterFactory(cfg app.RealtimeConfig, tokens transport.TokenSource) services.AdapterFactory {
	if !cfg.Enabled {
		return nil
	}
	destinations := map[string]string{
		services.ChannelNotifications: cfg.Destination,
		services.ChannelChat:          cfg.ChatDestination,
	}
	return func(channel string, handler transport.Handler) (services.Realtime, error) {
		return transport.New(transport.Config{
			Name:        channel,
			URL:         cfg.URL,
			SockJS:      cfg.SockJS,
			Destination: destinations[channel],
			Heartbeat:   cfg.Heartbeat,
			DialTimeout: cfg.DialTimeout,
		}, tokens, handler)
	}
}

// openStateStore selects Redis, an in-process map, or a SQL database for the persisted state.
// An unreachable Redis falls back to the configured database.
func openStateStore(ctx context.Context, cfg app.StateConfig, log *zap.Logger) (cache.Store, *gorm.DB, error) {
	if cfg.Redis.Enabled {
		store, err := cache.NewRedisStore(ctx, cfg.RedisClientConfig())
		if err == nil {
			log.Info("redis connected", zap.String("addr", cfg.Redis.Address))
			return store, nil, nil
		}
		log.Warn("redis unavailable; falling back to database-backed state", zap.Error(err))
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Driver), "memory") {
		log.Info("using in-memory state; sessions will not survive restarts")
		return cache.NewMemoryStore(), nil, nil
	}

	dbCfg := cfg.DatabaseConfig()
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	log.Info("state database connected", zap.String("driver", dbCfg.Driver))
	return cache.NewDatabaseStore(db), db, nil
}

// Shutdown stops background jobs, closes realtime channels and releases the state store.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		stopCtx := s.Scheduler.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		<-ctx.Done()
	}

	if s.Live != nil {
		s.Live.Close()
	}

	if rs, ok := s.Store.(*cache.RedisStore); ok && rs != nil {
		if err := rs.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}
