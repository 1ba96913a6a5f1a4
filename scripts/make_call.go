package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/callbridge/pkg/callbridge"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/logging"
	twiliotransport "github.com/harunnryd/callbridge/pkg/transports/twilio"
)

type twilioSettings struct {
	AccountSID         string `mapstructure:"account_sid"`
	AuthToken          string `mapstructure:"auth_token"`
	FromNumber         string `mapstructure:"from_number"`
	PublicURL          string `mapstructure:"public_url"`
	VoicePath          string `mapstructure:"voice_path"`
	StatusCallbackPath string `mapstructure:"status_callback_path"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	name := flag.String("name", "", "")
	company := flag.String("company", "", "")
	email := flag.String("email", "", "")
	script := flag.String("script", "", "")
	backend := flag.String("backend", "", "composed or bimodal; empty uses the bridge default")
	flag.Parse()
	if *to == "" {
		fmt.Println("usage: make_call -to=+456 [-from=+123] [-name=Dana] [-config=...]")
		os.Exit(1)
	}
	cfg, err := callbridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if cfg.CallStateMode() != "redis" {
		fmt.Println("callstate.provider must be redis so the bridge can resolve the call")
		os.Exit(1)
	}
	var settings twilioSettings
	if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}
	if settings.PublicURL == "" {
		fmt.Println("public_url is empty")
		os.Exit(1)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.CallState.RedisAddr,
		Password: cfg.CallState.Password,
		DB:       cfg.CallState.RedisDB,
	})
	defer client.Close()
	store := callstate.NewRedisStore(client, callstate.RedisOptions{Prefix: cfg.CallState.Prefix, TTL: cfg.CallState.TTL})

	dialer := twiliotransport.NewDialer(twiliotransport.Config{
		AccountSID:         settings.AccountSID,
		AuthToken:          settings.AuthToken,
		FromNumber:         settings.FromNumber,
		PublicURL:          settings.PublicURL,
		VoicePath:          settings.VoicePath,
		StatusCallbackPath: settings.StatusCallbackPath,
	})
	logger := logging.InitLogger(logging.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rec, err := callbridge.NewInitiator(store, dialer, logger).Place(ctx, callbridge.PlaceRequest{
		To:      *to,
		From:    *from,
		Backend: *backend,
		Lead:    callstate.Lead{Name: *name, Company: *company, Email: *email, Script: *script},
	})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_id:", rec.CallID)
	fmt.Println("call_sid:", rec.CallSID)
}
