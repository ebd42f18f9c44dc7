package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shuhub/collector/internal/analysis"
	"github.com/shuhub/collector/internal/bridge"
	"github.com/shuhub/collector/internal/calls"
	"github.com/shuhub/collector/internal/conversation"
	"github.com/shuhub/collector/internal/costs"
	"github.com/shuhub/collector/internal/debtor"
	"github.com/shuhub/collector/internal/eventlog"
	"github.com/shuhub/collector/internal/httpapi"
	"github.com/shuhub/collector/internal/notifications"
	"github.com/shuhub/collector/internal/realtime"
	"github.com/shuhub/collector/internal/store"
	"github.com/shuhub/collector/internal/telephony"
)

const debtorCachePrefix = "collector:debtor:"

// App owns every long-lived component of the service.
type App struct {
	cfg    Config
	logger zerolog.Logger

	db       *pgxpool.Pool // nil without DATABASE_URL
	rdb      *redis.Client // nil without REDIS_URL
	store    *store.Store
	archiver *store.Archiver
	eventLog *eventlog.Logger
	discord  *notifications.Discord

	conversations *conversation.Store
	calls         *calls.Registry
	tracker       *calls.Tracker
	telephony     *telephony.Client
	subjects      *debtor.Provider
	analyzer      *analysis.OpenAIAnalyzer
	costs         *costs.Calculator
	notifier      *notifications.Notifier
	bridge        *bridge.Bridge
}

func New(cfg Config, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		// Migrations are applied externally (psql -f migrations/*.sql).
		a.db = db
		a.store = store.New(db)
		a.eventLog = eventlog.New(db)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, calls are kept in memory only")
	}

	var cache debtor.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.rdb = rdb
		cache = debtor.NewRedisCache(rdb, debtorCachePrefix, cfg.DebtorCacheTTL)
	}

	a.costs = costs.NewCalculator(cfg.Costs)
	a.subjects = debtor.NewProvider(cache, logger)
	a.calls = calls.NewRegistry()
	a.tracker = calls.NewTracker()

	if a.store != nil {
		a.archiver = store.NewArchiver(a.store, a.costs, logger)
		a.conversations = conversation.NewStore(conversation.WithObserver(a.archiver))
		a.calls.OnTransition(a.archiver.CallTransitioned)
	} else {
		a.conversations = conversation.NewStore()
	}

	a.telephony = telephony.NewClient(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		BaseURL:    cfg.TwilioBaseURL,
	}, logger)
	if !cfg.TelephonyConfigured() {
		logger.Warn().Msg("Twilio credentials missing, call placement will fail")
	}

	a.analyzer = analysis.NewOpenAIAnalyzer(analysis.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.AnalysisModel,
		BaseURL: cfg.AnalysisBaseURL,
	}, logger)

	notifier, err := a.buildNotifier()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.notifier = notifier

	session := realtime.DefaultSessionOptions()
	session.Voice = cfg.RealtimeVoice
	session.Temperature = cfg.RealtimeTemperature

	deps := bridge.Deps{
		Conversations: a.conversations,
		Calls:         a.calls,
		Subjects:      a.subjects,
		Dial: bridge.RealtimeDialer(realtime.Config{
			APIKey:       cfg.OpenAIAPIKey,
			URL:          cfg.RealtimeURL,
			Model:        cfg.RealtimeModel,
			WriteTimeout: cfg.WriteTimeout,
		}, logger),
		Analyzer:   a.analyzer,
		OnAnalyzed: a.notifier.CallAnalyzed,
		Logger:     logger,
	}
	if cfg.TelephonyConfigured() {
		deps.HangUp = a.telephony
	}
	if a.eventLog != nil {
		deps.Events = a.eventLog
	}
	a.bridge = bridge.New(bridge.Config{
		Session:           session,
		MaxCallDuration:   cfg.MaxCallDuration,
		KeepaliveInterval: cfg.KeepaliveInterval,
		PrebufferFrames:   cfg.PrebufferFrames,
		AnalysisTimeout:   cfg.AnalysisTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}, deps)

	return a, nil
}

// buildNotifier wires whichever notification channels are configured. Absent
// channels stay nil interfaces so the notifier skips them.
func (a *App) buildNotifier() (*notifications.Notifier, error) {
	var (
		push notifications.Pusher
		post notifications.Poster
		text notifications.Texter
	)

	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    a.cfg.APNsKeyPath,
		KeyID:      a.cfg.APNsKeyID,
		TeamID:     a.cfg.APNsTeamID,
		BundleID:   a.cfg.APNsBundleID,
		Production: a.cfg.APNsProduction,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init apns: %w", err)
	}
	if apns != nil {
		push = apns
	}

	a.discord = notifications.NewDiscord(a.cfg.DiscordWebhookURL, a.logger)
	if a.discord.Enabled() {
		post = a.discord
	}

	if sms := notifications.NewSMSClient(notifications.SMSConfig{
		AccountSID:   a.cfg.TwilioAccountSID,
		AuthToken:    a.cfg.TwilioAuthToken,
		SenderNumber: a.cfg.SMSSenderNumber,
		BaseURL:      a.cfg.TwilioBaseURL,
	}, a.logger); sms != nil {
		text = sms
	}

	return notifications.New(notifications.Config{
		SupervisorDeviceTokens: a.cfg.SupervisorDeviceTokens,
		ReminderThreshold:      a.cfg.ReminderThreshold,
	}, push, post, text, a.logger), nil
}

func (a *App) Router() http.Handler {
	deps := httpapi.Deps{
		Conversations: a.conversations,
		Calls:         a.calls,
		Tracker:       a.tracker,
		Subjects:      a.subjects,
		Telephony:     a.telephony,
		Media:         a.bridge,
		Analyzer:      a.analyzer,
		Costs:         a.costs,
		Anomalies:     a.notifier,
	}
	if a.store != nil {
		deps.Archive = a.store
	}
	if a.eventLog != nil {
		deps.Events = a.eventLog
	}
	return httpapi.NewRouter(httpapi.RouterConfig{
		PublicBaseURL:     a.cfg.PublicBaseURL,
		DefaultFromNumber: a.cfg.TwilioPhoneNumber,
		Announcement:      a.cfg.Announcement,
		JWTSecret:         a.cfg.JWTSecret,
		CallRateLimit:     a.cfg.CallRateLimit,
		CallRateBurst:     a.cfg.CallRateBurst,
	}, deps, a.logger)
}

// Drain stops admitting calls and waits for live ones, their analyses and
// queued archive writes. It returns early when ctx ends.
func (a *App) Drain(ctx context.Context) {
	a.tracker.StartDraining()
	a.logger.Info().Int64("active_calls", a.tracker.ActiveCount()).Msg("draining")

	done := make(chan struct{})
	go func() {
		a.tracker.Wait()
		a.bridge.WaitForAnalyses()
		a.discord.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info().Msg("all calls finished")
	case <-ctx.Done():
		a.logger.Warn().Int64("active_calls", a.tracker.ActiveCount()).Msg("drain timed out")
	}
	a.archiver.Close()
}

// ListArchivedCalls returns the most recent archived calls.
func (a *App) ListArchivedCalls(ctx context.Context, limit int) ([]store.Call, error) {
	if a.store == nil {
		return nil, fmt.Errorf("archive unavailable: DATABASE_URL is not set")
	}
	return a.store.ListCalls(ctx, limit)
}

func (a *App) Close() error {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
