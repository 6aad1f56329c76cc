package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dommoco/whatsapp-concierge/internal/api/router"
	"github.com/dommoco/whatsapp-concierge/internal/buffer"
	appconfig "github.com/dommoco/whatsapp-concierge/internal/config"
	"github.com/dommoco/whatsapp-concierge/internal/conversation"
	"github.com/dommoco/whatsapp-concierge/internal/events"
	"github.com/dommoco/whatsapp-concierge/internal/guard"
	"github.com/dommoco/whatsapp-concierge/internal/http/handlers"
	"github.com/dommoco/whatsapp-concierge/internal/http/middleware"
	"github.com/dommoco/whatsapp-concierge/internal/humanize"
	"github.com/dommoco/whatsapp-concierge/internal/llm"
	"github.com/dommoco/whatsapp-concierge/internal/messaging/waclient"
	"github.com/dommoco/whatsapp-concierge/internal/observability/metrics"
	"github.com/dommoco/whatsapp-concierge/internal/orders"
	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// storeKnowledge is the static store profile injected into response prompts.
var storeKnowledge = map[string]string{
	"nombre":    "Dommo - Rosas Preservadas",
	"productos": "Rosas preservadas en domo de vidrio, arreglos con rosas preservadas, tarjetas personalizadas",
	"precios":   "Rosa clásica desde $120.000 COP, rosa premium desde $150.000 COP, arreglos desde $200.000 COP",
	"entrega":   "Entregas en Bogotá el mismo día para pedidos antes de la 1pm; resto de Colombia 2-4 días hábiles",
	"duracion":  "Las rosas preservadas duran entre 1 y 3 años con cuidado básico",
	"pagos":     "Nequi, Daviplata, transferencia Bancolombia y contraentrega en Bogotá",
}

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting whatsapp-concierge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, transcripts disabled", "error", err)
			redisClient = nil
		}
	}
	transcripts := conversation.NewTranscriptStore(redisClient)

	llmClient := llm.New(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel, cfg.LLMMaxTokens, logger)

	var lookup *orders.Lookup
	if cfg.SpreadsheetID != "" {
		sheetStore, err := orders.NewSheetsStore(context.Background(), cfg.GoogleCredsFile, cfg.SpreadsheetID, cfg.SpreadsheetRange)
		if err != nil {
			logger.Error("failed to initialize sheets store", "error", err)
			os.Exit(1)
		}
		lookup = orders.NewLookup(sheetStore, cfg.OrderCacheExpiry, logger)
	} else {
		logger.Warn("SPREADSHEET_ID not set, orders will not be persisted")
	}

	waClient, err := waclient.New(waclient.Config{
		Token:       cfg.WhatsAppAPIToken,
		PhoneID:     cfg.WhatsAppPhoneID,
		APIVersion:  cfg.WhatsAppAPIVersion,
		MaxLength:   cfg.OutboundMaxLength,
		SendRetries: cfg.OutboundSendRetries,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize WhatsApp client", "error", err)
		os.Exit(1)
	}

	m := metrics.NewConciergeMetrics(nil)
	state := conversation.NewStateStore()
	msgBuffer := buffer.New(cfg.BufferWaitTime, logger)
	intents := conversation.NewRouter(llmClient, state, logger, m)
	appointments := conversation.NewAppointmentEngine(llmClient, orderRecorder(lookup, logger), state, logger)

	engineCfg := conversation.EngineConfig{
		Buffer:         msgBuffer,
		Guard:          guard.New(),
		State:          state,
		Intents:        intents,
		Appointments:   appointments,
		Notifier:       waClient,
		LLM:            llmClient,
		Pipeline:       humanize.New(),
		Transcript:     transcripts,
		Logger:         logger,
		Metrics:        m,
		Cooldown:       cfg.ProcessingCooldown,
		CatalogURL:     cfg.CatalogDocumentURL,
		CatalogCaption: cfg.CatalogCaption,
		KnowledgeBase:  storeKnowledge,
		SimulateTyping: cfg.Env == "production",
	}
	if lookup != nil {
		engineCfg.Orders = lookup
	}
	engine, err := conversation.NewEngine(engineCfg)
	if err != nil {
		logger.Error("failed to build conversation engine", "error", err)
		os.Exit(1)
	}

	// Idle buffer entries are swept in the background.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.BufferCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				msgBuffer.Cleanup()
			case <-cleanupDone:
				return
			}
		}
	}()

	webhooks := handlers.NewWhatsAppWebhookHandler(
		cfg.WebhookVerifyToken,
		events.NewDeliveryDeduplicator(),
		engine,
		logger,
		m,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler: router.New(router.Config{
			Webhooks: webhooks,
			Logger:   logger,
			Throttle: middleware.NewWebhookThrottle(20, 40),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	close(cleanupDone)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// orderRecorder adapts the optional lookup into the recorder the appointment
// flow needs; without a spreadsheet configured, confirmed orders are only
// logged.
func orderRecorder(lookup *orders.Lookup, logger *logging.Logger) interface {
	Record(ctx context.Context, o orders.Order) error
} {
	if lookup != nil {
		return lookup
	}
	return logOnlyRecorder{logger: logger}
}

type logOnlyRecorder struct {
	logger *logging.Logger
}

func (r logOnlyRecorder) Record(_ context.Context, o orders.Order) error {
	r.logger.Warn("order not persisted, no spreadsheet configured",
		"name", o.Name, "date", o.Date, "description", o.Description)
	return nil
}
