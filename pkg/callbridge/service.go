package callbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/adapters/stt"
	"github.com/harunnryd/callbridge/pkg/adapters/tts"
	"github.com/harunnryd/callbridge/pkg/backend"
	"github.com/harunnryd/callbridge/pkg/callstate"
	"github.com/harunnryd/callbridge/pkg/configutil"
	"github.com/harunnryd/callbridge/pkg/dialogue"
	"github.com/harunnryd/callbridge/pkg/events"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/observers"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/resilience"
	"github.com/harunnryd/callbridge/pkg/runner"
	"github.com/harunnryd/callbridge/pkg/session"
	"github.com/harunnryd/callbridge/pkg/timers"
	"github.com/harunnryd/callbridge/pkg/transports"
)

type ServiceOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Store     callstate.Store
	Publisher events.Publisher
	// Retriever supplies knowledge context to the composed backend. Nil disables it.
	Retriever dialogue.Retriever
	Logger    *slog.Logger
	// Observer receives metric events in addition to the configured sinks.
	Observer metrics.Observer
	Clock    timers.Clock
}

// Service wires providers, the bridge and the process lifecycle from one Config.
type Service struct {
	cfg       Config
	bridge    *Bridge
	completer llm.Completer
	recognize stt.Factory
	synth     tts.Synthesizer
	live      backend.LiveDialer
	retriever dialogue.Retriever
	transport transports.Transport
	runner    *runner.LifecycleRunner
	asyncObs  *metrics.AsyncObserver
	timeline  *observers.TimelineObserver
	metricsF  *os.File
	logger    *slog.Logger
	obs       metrics.Observer

	recognizerRate int
}

func NewService(opts ServiceOptions) (*Service, error) {
	cfg := opts.Config
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}
	s := &Service{
		cfg:       cfg,
		retriever: opts.Retriever,
		logger:    logging.NewComponentLogger(logger, "service"),
	}
	logger.Info("callbridge_init",
		"environment", cfg.Environment,
		"backend", cfg.BackendMode(),
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"live_provider", cfg.Vendors.Live.Provider,
		"transport", cfg.Transports.Provider,
		"callstate", cfg.CallStateMode(),
		"events", cfg.Events.Provider,
	)

	if err := s.buildObservers(logger, opts.Observer); err != nil {
		return nil, err
	}
	if err := s.buildProviders(providers, opts.Clock, logger); err != nil {
		s.closeObservers()
		return nil, err
	}

	var summarizer Summarizer
	if cfg.Summary.Enabled && s.completer != nil {
		summarizer = dialogue.NewSummarizer(s.completer)
	}
	bridge, err := NewBridge(BridgeOptions{
		Store:      opts.Store,
		Backends:   s.BackendFor,
		Publisher:  opts.Publisher,
		Summarizer: summarizer,
		Session: session.Config{
			Pacer: tts.PacerConfig{
				FrameBytes: cfg.Playback.FrameBytes,
				Interval:   configutil.Millis(cfg.Playback.IntervalMS, 0),
			},
			Clock:          opts.Clock,
			PersistTimeout: configutil.Millis(cfg.Session.PersistTimeoutMS, 0),
		},
		Grace:          configutil.Millis(cfg.Session.GraceMS, DefaultGrace),
		SummaryTimeout: configutil.Millis(cfg.Summary.TimeoutMS, DefaultSummaryTimeout),
		HangupTimeout:  configutil.Millis(cfg.Session.HangupTimeoutMS, DefaultHangupTimeout),
		Producer:       cfg.Events.Producer,
		Logger:         logger,
		Observer:       s.obs,
	})
	if err != nil {
		s.closeObservers()
		return nil, err
	}
	s.bridge = bridge

	hooks := runner.Hooks{
		OnStart: func(ctx context.Context) error {
			if s.transport == nil {
				return fmt.Errorf("no transport attached")
			}
			if err := s.transport.Start(ctx); err != nil {
				return err
			}
			fields := []any{"message", "callbridge ready", "backend", cfg.BackendMode()}
			if rr, ok := s.transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			s.logger.Info("service_ready", fields...)
			return nil
		},
		OnStop: func() {
			s.closeObservers()
			s.logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", s.bridge.Sessions().Len())
		},
	}
	drain := runner.DrainerFunc(func(ctx context.Context) error {
		err := s.bridge.Drain(ctx)
		if s.transport != nil {
			_ = s.transport.Stop()
		}
		return err
	})
	s.runner = runner.NewLifecycleRunner(drain, hooks, configutil.Millis(cfg.Session.DrainTimeoutMS, 30*time.Second))
	return s, nil
}

func (s *Service) buildObservers(logger *slog.Logger, extra metrics.Observer) error {
	obs := s.cfg.Observability
	list := []metrics.Observer{
		observers.NewLoggerObserver(logging.NewComponentLogger(logger, "metrics")),
		observers.NewLatencyObserver(logging.NewComponentLogger(logger, "latency")),
	}
	if extra != nil {
		list = append(list, extra)
	}
	if path := strings.TrimSpace(obs.MetricsPath); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		s.metricsF = f
		var sink metrics.Observer = metrics.NewJSONLObserver(f)
		if obs.SampleRate < 1 {
			sink = metrics.NewSamplingObserver(sink, obs.SampleRate)
		}
		list = append(list, sink)
	}
	if dir := strings.TrimSpace(obs.ArtifactsDir); dir != "" {
		if obs.RetentionDays > 0 {
			if n, err := observers.PurgeArtifacts(dir, time.Duration(obs.RetentionDays)*24*time.Hour); err != nil {
				s.logger.Warn("artifact_purge_failed", "error", err)
			} else if n > 0 {
				s.logger.Info("artifacts_purged", "count", n)
			}
		}
		s.timeline = observers.NewTimelineObserver(dir)
		list = append(list, s.timeline, observers.NewReportObserver(dir))
	}
	s.asyncObs = metrics.NewAsyncObserver(observers.NewMultiObserver(list...), obs.Buffer)
	s.obs = s.asyncObs
	return nil
}

func (s *Service) closeObservers() {
	if s.asyncObs != nil {
		s.asyncObs.Close()
		if n := s.asyncObs.Dropped(); n > 0 {
			s.logger.Warn("metrics_events_dropped", "count", n)
		}
	}
	if s.timeline != nil {
		_ = s.timeline.Close()
	}
	if s.metricsF != nil {
		_ = s.metricsF.Close()
	}
}

func (s *Service) buildProviders(reg *ProviderRegistry, clock timers.Clock, logger *slog.Logger) error {
	cfg := s.cfg
	if p := cfg.Vendors.LLM.Provider; strings.TrimSpace(p) != "" {
		completer, err := reg.BuildLLM(p, cfg)
		if err != nil {
			return err
		}
		breaker := resilience.NewCircuitBreakerWithClock(cfg.Breaker.Threshold, configutil.Millis(cfg.Breaker.CooldownMS, 0), clock)
		guarded := llm.NewCircuitBreakerCompleter(completer, breaker)
		guarded.SetObserver(s.obs)
		s.completer = guarded
	}
	if p := cfg.Vendors.STT.Provider; strings.TrimSpace(p) != "" {
		factory, err := reg.BuildSTTFactory(p, cfg, logger)
		if err != nil {
			return err
		}
		s.recognize = factory
		s.recognizerRate = recognizerRate(cfg.Vendors.STT.Settings)
	}
	if p := cfg.Vendors.TTS.Provider; strings.TrimSpace(p) != "" {
		synth, err := reg.BuildTTS(p, cfg, logger)
		if err != nil {
			return err
		}
		s.synth = synth
	}
	if p := cfg.Vendors.Live.Provider; strings.TrimSpace(p) != "" {
		live, err := reg.BuildLive(p, cfg, logger)
		if err != nil {
			return err
		}
		s.live = live
	}
	return nil
}

// recognizerRate is the PCM rate a linear16 recognizer expects; µ-law recognizers get
// telephony audio untouched.
func recognizerRate(settings map[string]any) int {
	var v struct {
		Encoding   string `mapstructure:"encoding"`
		SampleRate int    `mapstructure:"sample_rate"`
	}
	if err := configutil.DecodeSettings(settings, &v); err != nil {
		return 0
	}
	if strings.EqualFold(v.Encoding, tts.EncodingPCM16) {
		if v.SampleRate == 0 {
			return 16000
		}
		return v.SampleRate
	}
	return 0
}

// BackendFor builds the voice agent for one call. The record's backend wins over the
// configured default.
func (s *Service) BackendFor(rec callstate.Record) (session.Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(rec.Backend))
	if mode == "" {
		mode = s.cfg.BackendMode()
	}
	agent := s.cfg.Agent
	switch mode {
	case "bimodal":
		if s.live == nil {
			return nil, fmt.Errorf("call %s wants the bimodal backend but no live provider is configured", rec.CallID)
		}
		return backend.NewBimodal(s.live, backend.BimodalConfig{AgentName: agent.Name, Company: agent.Company})
	case "composed":
		if s.recognize == nil || s.synth == nil || s.completer == nil {
			return nil, fmt.Errorf("call %s wants the composed backend but stt, tts or llm is not configured", rec.CallID)
		}
		d := s.cfg.Dialogue
		responder := dialogue.NewResponder(s.completer, s.retriever, dialogue.ResponderConfig{
			Timeout:          configutil.Millis(d.LLMTimeoutMS, 0),
			RetrievalTimeout: configutil.Millis(d.RetrievalTimeoutMS, 0),
			MaxTokens:        d.MaxTokens,
			Temperature:      d.Temperature,
			MaxReplyChars:    d.MaxReplyChars,
			AgentName:        agent.Name,
			Company:          agent.Company,
		}, s.logger)
		responder.SetObserver(metrics.WithTags(s.obs, map[string]string{"call_id": rec.CallID}))
		return backend.NewComposed(s.recognize(rec.CallID, ""), s.synth, responder, backend.ComposedConfig{
			Debounce:         configutil.Millis(s.cfg.Turn.DebounceMS, 0),
			SynthesisTimeout: configutil.Millis(s.cfg.Synthesis.TimeoutMS, 0),
			RecognizerRate:   s.recognizerRate,
			AgentName:        agent.Name,
			Company:          agent.Company,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q for call %s", mode, rec.CallID)
	}
}

// AttachTransport sets the telephony transport. A transport that can hang up calls is
// used for agent-initiated hang-ups. Call before Start.
func (s *Service) AttachTransport(t transports.Transport) {
	s.transport = t
	if h, ok := t.(transports.CallHanger); ok {
		s.bridge.SetHanger(h)
	}
}

// Start brings the transport up and returns; the service drains when ctx ends or Stop
// is called.
func (s *Service) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		if !errors.Is(err, runner.ErrAlreadyRun) {
			s.closeObservers()
		}
		return err
	}
	return nil
}

func (s *Service) Stop() error { return s.runner.Stop() }

func (s *Service) Bridge() *Bridge                 { return s.bridge }
func (s *Service) Completer() llm.Completer        { return s.completer }
func (s *Service) Config() Config                  { return s.cfg }
func (s *Service) Observer() metrics.Observer      { return s.obs }
func (s *Service) Runner() *runner.LifecycleRunner { return s.runner }
