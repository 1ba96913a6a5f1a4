package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/callbridge/pkg/callbridge"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/events"
	"github.com/harunnryd/callbridge/pkg/knowledge"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/transports"
	mocktransport "github.com/harunnryd/callbridge/pkg/transports/mock"
	twiliotransport "github.com/harunnryd/callbridge/pkg/transports/twilio"
)

type twilioSettings struct {
	AccountSID         string   `mapstructure:"account_sid"`
	AuthToken          string   `mapstructure:"auth_token"`
	FromNumber         string   `mapstructure:"from_number"`
	PublicURL          string   `mapstructure:"public_url"`
	ServerAddr         string   `mapstructure:"server_addr"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	SendBuffer         int      `mapstructure:"send_buffer"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	dialTo := flag.String("dial_to", "", "destination number for one outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for the outbound call")
	leadName := flag.String("lead_name", "", "prospect name used in the greeting")
	leadCompany := flag.String("lead_company", "", "prospect company")
	leadEmail := flag.String("lead_email", "", "prospect email on file")
	script := flag.String("script", "", "opening line for the outbound call")
	flag.Parse()

	cfg, err := callbridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.InitLogger(logging.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, placeFlags{
		to:      *dialTo,
		from:    *dialFrom,
		lead:    callstate.Lead{Name: *leadName, Company: *leadCompany, Email: *leadEmail, Script: *script},
		enabled: *dialTo != "",
	}); err != nil {
		logger.Error("callbridge_exit", "error", err)
		os.Exit(1)
	}
}

type placeFlags struct {
	to      string
	from    string
	lead    callstate.Lead
	enabled bool
}

func run(ctx context.Context, cfg callbridge.Config, logger *slog.Logger, place placeFlags) error {
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	retriever, closeKnowledge, err := buildRetriever(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKnowledge()

	providers := callbridge.NewProviderRegistry()
	registerProviders(providers)

	svc, err := callbridge.NewService(callbridge.ServiceOptions{
		Config:    cfg,
		Providers: providers,
		Store:     store,
		Publisher: publisher,
		Retriever: retriever,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	transport, err := buildTransport(cfg, svc.Bridge(), logger)
	if err != nil {
		return err
	}
	svc.AttachTransport(transport)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	if place.enabled {
		dialer, ok := transport.(transports.OutboundDialer)
		if !ok {
			logger.Warn("transport_no_outbound_dialer", "transport", transport.Name())
		} else {
			rec, err := callbridge.NewInitiator(store, dialer, logger).Place(ctx, callbridge.PlaceRequest{
				To:   place.to,
				From: place.from,
				Lead: place.lead,
			})
			if err != nil {
				logger.Error("outbound_dial_failed", "error", err)
			} else {
				logger.Info("outbound_dial_started", "call_id", rec.CallID, "call_sid", rec.CallSID)
			}
		}
	}

	<-ctx.Done()
	return svc.Stop()
}

func buildStore(ctx context.Context, cfg callbridge.Config) (callstate.Store, func(), error) {
	switch cfg.CallStateMode() {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.CallState.RedisAddr,
			Password: cfg.CallState.Password,
			DB:       cfg.CallState.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.CallState.RedisAddr, err)
		}
		store := callstate.NewRedisStore(client, callstate.RedisOptions{
			Prefix: cfg.CallState.Prefix,
			TTL:    cfg.CallState.TTL,
		})
		return store, func() { _ = client.Close() }, nil
	default:
		return callstate.NewMemoryStore(), func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg callbridge.Config, logger *slog.Logger) (events.Publisher, error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.Events.Provider), "amqp") {
		return events.NopPublisher{}, nil
	}
	return events.NewAMQPPublisher(ctx, events.AMQPConfig{
		URL:         cfg.Events.URL,
		Exchange:    cfg.Events.Exchange,
		DialRetries: cfg.Events.DialRetries,
	}, logger)
}

// buildRetriever always serves the built-in objection answers and adds the Postgres
// knowledge table when a DSN is configured.
func buildRetriever(ctx context.Context, cfg callbridge.Config, logger *slog.Logger) (dialogue.Retriever, func(), error) {
	objections := knowledge.NewObjectionIndex(knowledge.DefaultObjections())
	dsn := strings.TrimSpace(cfg.Knowledge.DSN)
	if dsn == "" {
		return knowledge.NewChain(logger, objections), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect knowledge db: %w", err)
	}
	if cfg.Knowledge.Migrate {
		if err := knowledge.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	chain := knowledge.NewChain(logger, objections, knowledge.NewPostgresRetriever(pool, cfg.Knowledge.Limit))
	return chain, pool.Close, nil
}

func buildTransport(cfg callbridge.Config, handler transports.Handler, logger *slog.Logger) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)) {
	case "twilio":
		var settings twilioSettings
		if err := configutil.Load("transports.settings", cfg.Transports.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token"},
			Optional: []string{"from_number", "public_url", "server_addr", "voice_path", "ws_path", "status_callback_path", "voice_greeting", "allow_any_origin", "allowed_origins", "send_buffer"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.AccountSID, "transports.settings.account_sid"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.AuthToken, "transports.settings.auth_token"); err != nil {
			return nil, err
		}
		return twiliotransport.New(twiliotransport.Config{
			AccountSID:         settings.AccountSID,
			AuthToken:          settings.AuthToken,
			FromNumber:         settings.FromNumber,
			PublicURL:          settings.PublicURL,
			ServerAddr:         settings.ServerAddr,
			VoicePath:          settings.VoicePath,
			WebsocketPath:      settings.WebsocketPath,
			StatusCallbackPath: settings.StatusCallbackPath,
			VoiceGreeting:      settings.VoiceGreeting,
			AllowAnyOrigin:     settings.AllowAnyOrigin,
			AllowedOrigins:     settings.AllowedOrigins,
			SendBuffer:         settings.SendBuffer,
		}, handler, logger), nil
	case "mock":
		return mocktransport.New(handler), nil
	default:
		return nil, fmt.Errorf("unsupported transport provider: %s", cfg.Transports.Provider)
	}
}
