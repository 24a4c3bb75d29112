package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pump-backend/internal/database"
	"pump-backend/internal/dispatch"
	"pump-backend/internal/gateway"
	"pump-backend/internal/mqtt"
	"pump-backend/internal/registry"
	"pump-backend/internal/schedule"
	"pump-backend/internal/services"
	"pump-backend/internal/telemetry"
	"pump-backend/pkg/config"
)

func main() {
	cfg := config.Load()
	logger := setupLogger(cfg.LogLevel)

	logger.Info("starting pump backend gateway")

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
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize MQTT client", "error", err)
		os.Exit(1)
	}
	defer mqttClient.Close()

	publisher := mqtt.NewPublisher(mqttClient.GetNativeClient(), mqtt.PublisherConfig{
		TelemetryTopic: cfg.MQTTTopicTelemetryPub,
		ChannelSize:    cfg.ReadingChannelSize,
	}, logger)
	go publisher.Start(ctx)

	// Registry and dispatcher: who is reachable, and how to reach them
	reg := registry.New(logger)
	dispatcher := dispatch.New(reg, logger)

	// Schedule sync replays a device's active rules on every (re)connect
	coordinator := schedule.NewCoordinator(db, db, dispatcher, logger)

	gatewayConfig := gateway.DefaultServerConfig()
	gatewayConfig.DevicePathPrefix = cfg.DevicePathPrefix
	gatewayConfig.FrameChannelSize = cfg.FrameChannelSize

	gw := gateway.NewServer(gatewayConfig, reg, logger)
	gw.OnDeviceConnect = func(ctx context.Context, deviceID string) {
		report := coordinator.SyncAll(ctx, deviceID)
		if !report.Success {
			logger.Warn("schedule sync incomplete on connect",
				"device_id", deviceID,
				"synced", report.SyncedCount,
				"total", report.TotalSchedules,
				"error", report.Error)
		}
	}

	ingest := services.NewIngestService(
		telemetry.NewValidator(),
		db,
		gw.Frames,
		publisher.Readings,
		logger,
	)
	go ingest.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.DevicePathPrefix, gw.HandleDevice)
	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.Snapshot())
	})
	mux.HandleFunc("/devices/", handleCommand(dispatcher, logger))

	server := &http.Server{Addr: cfg.GatewayListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.GatewayListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("gateway server error", "error", err)
		os.Exit(1)
	}
}

// handleCommand serves POST /devices/{name}/commands. The dispatcher's
// classified errors map straight onto response statuses, so a caller can tell
// an unknown device (404, with the live device list) from a flaky link (503).
func handleCommand(dispatcher *dispatch.Dispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		deviceID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/devices/"), "/commands")
		if deviceID == "" || strings.Contains(deviceID, "/") {
			http.Error(w, "missing or malformed device name", http.StatusBadRequest)
			return
		}

		var body struct {
			Command string `json:"command"`
			Value   any    `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Command == "" {
			http.Error(w, "body must be a JSON object with a command field", http.StatusBadRequest)
			return
		}

		envelope, err := dispatcher.Send(r.Context(), deviceID, body.Command, body.Value)
		if err != nil {
			var derr *dispatch.Error
			if errors.As(err, &derr) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(derr.StatusCode)
				_ = json.NewEncoder(w).Encode(derr)
				return
			}
			logger.Error("unclassified dispatch failure", "device_id", deviceID, "error", err)
			http.Error(w, "dispatch failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(envelope)
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
