package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pump-backend/internal/database"
	"pump-backend/internal/models"
	"pump-backend/internal/mqtt"
	"pump-backend/internal/services"
	"pump-backend/pkg/config"
)

// The monitor is the consuming side of the telemetry stream: it subscribes
// to the fan-out, runs the per-device connection/quality state machine, and
// serves composite verdicts to the dashboard.
func main() {
	cfg := config.Load()
	logger := setupLogger(cfg.LogLevel)

	logger.Info("starting pump backend monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	db, err := database.NewClickHouseDB(
		cfg.ClickHouseAddr,
		cfg.ClickHouseDB,
		cfg.ClickHouseUser,
		cfg.ClickHousePass,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize ClickHouse", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID + "-monitor",
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize MQTT client", "error", err)
		os.Exit(1)
	}
	defer mqttClient.Close()

	subscriber := mqtt.NewSubscriber(mqttClient.GetNativeClient(), mqtt.SubscriberConfig{
		TelemetryTopic: cfg.MQTTTopicTelemetrySub,
		ChannelSize:    cfg.ReadingChannelSize,
	}, logger)
	if err := subscriber.Subscribe(); err != nil {
		logger.Error("failed to subscribe to telemetry", "error", err)
		os.Exit(1)
	}

	monitorConfig := services.MonitorServiceConfig{
		TickInterval:       time.Duration(cfg.MonitorTickSeconds) * time.Second,
		ActivePollInterval: time.Duration(cfg.MonitorActivePollSeconds) * time.Second,
	}
	monitor := services.NewMonitorService(monitorConfig, db, mqttClient, subscriber.Readings, logger)
	go monitor.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/devices/", func(w http.ResponseWriter, r *http.Request) {
		deviceID := strings.TrimPrefix(r.URL.Path, "/devices/")
		deviceID = strings.TrimSuffix(deviceID, "/status")
		if deviceID == "" {
			http.Error(w, "missing device id", http.StatusBadRequest)
			return
		}

		verdict, ok := monitor.Verdict(deviceID)
		if !ok {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		reading, hasReading := monitor.LastGood(deviceID)

		response := struct {
			Verdict models.ConnectionVerdict `json:"verdict"`
			Reading *models.ValidatedReading `json:"reading,omitempty"`
		}{Verdict: verdict}
		if hasReading {
			response.Reading = &reading
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(monitor.DeviceIDs())
	})

	server := &http.Server{Addr: cfg.MonitorListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("monitor listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("monitor server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
