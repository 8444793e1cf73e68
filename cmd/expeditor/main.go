package main

import (
	"context"
	"strings"

	"barpos/internal/bridge"
	"barpos/internal/handlers"
	"barpos/internal/metrics"
	"barpos/internal/policy"
	"barpos/internal/realtime"
	"barpos/internal/store"
	"barpos/pkg/auth"
	"barpos/pkg/config"
	"barpos/pkg/database"
	"barpos/pkg/kafka"
	"barpos/pkg/logging"
	"barpos/pkg/monitoring"
	"barpos/pkg/server"
	"barpos/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("expeditor")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Expeditor (realtime POS hub)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("expeditor", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("expeditor", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	// Database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()
	posStore := store.NewPostgresStore(db, logger)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	// Realtime core
	registryConfig := realtime.RegistryConfig{
		MaxConnections:       config.GetEnvInt("MAX_CONNECTIONS", 1000),
		MaxTenantConnections: config.GetEnvInt("MAX_TENANT_CONNECTIONS", 0),
	}
	registry := realtime.NewRegistry(registryConfig, logger)
	offline := realtime.NewOfflineQueue(config.GetEnvInt("OFFLINE_QUEUE_SIZE", 256))
	dispatcher := realtime.NewDispatcher(registry, offline, logger, serviceMetrics)

	// Auth
	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
	verifier := &auth.JWTVerifier{Secret: jwtSecret}

	// Event bridge: shared by the Kafka consumer and the internal HTTP
	// ingest endpoint.
	eventBridge := bridge.New(dispatcher, logger)

	// Handlers
	handlerConfig := handlers.Config{
		CookieName:        config.GetEnv("SESSION_COOKIE_NAME", auth.DefaultSessionCookie),
		HeartbeatInterval: config.GetEnvDuration("HEARTBEAT_INTERVAL", handlers.DefaultConfig().HeartbeatInterval),
		FlushDelay:        handlers.DefaultConfig().FlushDelay,
		ServiceToken:      auth.GetServiceToken(),
	}
	expeditorHandlers := handlers.NewExpeditorHandlers(
		registry, dispatcher, posStore, policy.NewRoleTable(), verifier,
		eventBridge, serviceMetrics, logger, handlerConfig,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka bridge for externally-produced events, enabled when brokers are
	// configured.
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		groupID := config.GetEnv("KAFKA_GROUP_ID", "expeditor-group")
		clusterID := config.GetEnv("KAFKA_CLUSTER_ID", "pos")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "expeditor")
		topics := strings.Split(config.GetEnv("KAFKA_TOPICS", "pos_events"), ",")

		consumer, err := kafka.NewConsumer(brokers, groupID, clusterID, clientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Kafka consumer")
		}
		defer consumer.Close()

		consumer.SetMetrics(serviceMetrics)
		eventBridge.Attach(consumer, topics)

		healthChecker.AddCheck("kafka", monitoring.KafkaConsumerHealthCheck(consumer.GetClient()))
		healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
			"KAFKA_BROKERS": brokersEnv,
			"KAFKA_TOPICS":  strings.Join(topics, ","),
		}))

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Error("Kafka consumer error")
			}
		}()
	} else {
		logger.Info("KAFKA_BROKERS not set, event bridge disabled")
	}

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "expeditor", healthChecker, metricsCollector)
	expeditorHandlers.RegisterRoutes(router)

	// Long-lived streams cannot survive a server write timeout.
	serverConfig := server.StreamingConfig("expeditor", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
