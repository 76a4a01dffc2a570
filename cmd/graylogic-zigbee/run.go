package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-zigbee/migrations"

	"github.com/nerrad567/gray-logic-zigbee/internal/api"
	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
)

// run is the bridge process, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Zigbee bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	if !cfg.Zigbee.Enabled {
		log.Info("zigbee bridge disabled in configuration, nothing to do")
		return nil
	}

	bridgeCfg := bridgeConfig(cfg)
	if err := bridgeCfg.Validate(); err != nil {
		return fmt.Errorf("zigbee config: %w", err)
	}

	// Open database and apply embedded migrations
	db, err := database.OpenMigrated(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	}, migrations.FS)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	schema, err := db.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "schema", schema)

	recorder := zigbee.NewNodeRecorder(db.DB)
	recorder.SetLogger(log.Component("recorder"))
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("starting node recorder: %w", err)
	}
	defer recorder.Stop()

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT with the bridge's offline LWT
	lwt, err := json.Marshal(zigbee.NewLWTMessage(bridgeCfg.BridgeID))
	if err != nil {
		return fmt.Errorf("building LWT: %w", err)
	}
	mqttClient, err := mqtt.ConnectWithWill(cfg.MQTT, mqtt.Will{Topic: zigbee.HealthTopic(), Payload: lwt})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, conn, err := startZigbeeBridge(ctx, bridgeCfg, mqttClient, recorder, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting Zigbee bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Zigbee bridge")
		bridge.Stop()
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing coordinator connection", "error", closeErr)
		}
	}()

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log.Component("api"),
		Bridge:   bridge,
		Store:    recorder,
		MQTT:     mqttClient,
		Database: db,
		Gatherer: prometheus.DefaultGatherer,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if influxClient != nil {
		go reportDiscoveryStats(ctx, bridge, influxClient, bridgeCfg)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred cleanup runs in reverse order: API, bridge and coordinator,
	// MQTT, InfluxDB, recorder, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startZigbeeBridge locates the coordinator, connects and starts the bridge.
// The caller owns the returned connection and closes it after Bridge.Stop.
func startZigbeeBridge(ctx context.Context, bridgeCfg zigbee.Config, mqttClient *mqtt.Client,
	recorder *zigbee.NodeRecorder, influxClient *influxdb.Client, log *logging.Logger) (*zigbee.Bridge, *zigbee.ZNPClient, error) {
	device, err := bridgeCfg.ResolveDevice()
	if err != nil {
		return nil, nil, err
	}
	log.Info("coordinator device", "device", device)

	conn, err := zigbee.ConnectZNP(ctx, bridgeCfg.ZNPConfig(device))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to coordinator: %w", err)
	}
	conn.SetLogger(log.Component("znp"))

	opts := zigbee.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Connector:  conn,
		Logger:     log.Component("zigbee"),
		Recorder:   recorder,
		Registerer: prometheus.DefaultRegisterer,
	}
	// A nil *influxdb.Client must not become a non-nil Telemetry.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := zigbee.NewBridge(opts)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		_ = conn.Close()
		return nil, nil, err
	}
	log.Info("Zigbee bridge started", "bridge_id", bridgeCfg.BridgeID)
	return bridge, conn, nil
}

// bridgeConfig maps the zigbee section of config.yaml to the bridge's config.
func bridgeConfig(cfg *config.Config) zigbee.Config {
	z := cfg.Zigbee
	bc := zigbee.DefaultConfig()
	bc.Version = version
	bc.Device = z.Transport.Device
	if len(z.Transport.Patterns) > 0 {
		bc.DevicePatterns = append([]string(nil), z.Transport.Patterns...)
	}
	bc.RequestTimeout = config.Seconds(z.Transport.RequestTimeout)
	bc.Endpoint = uint8(z.Coordinator.Endpoint)
	bc.ProfileID = uint16(z.Coordinator.ProfileID)
	bc.RetryInterval = config.Seconds(z.Discovery.RetryInterval)
	bc.PollInterval = config.Seconds(z.Discovery.PollInterval)
	bc.BindingPrefix = z.Discovery.BindingPrefix
	bc.MotionModelPrefix = z.Discovery.MotionModelPrefix
	bc.DefaultPairingTime = z.Pairing.DefaultTime
	bc.HealthInterval = config.Seconds(z.HealthInterval)
	return bc
}

// discoveryStatsInterval is how often discovery figures go to InfluxDB.
const discoveryStatsInterval = time.Minute

// reportDiscoveryStats writes network discovery figures until ctx ends.
func reportDiscoveryStats(ctx context.Context, bridge *zigbee.Bridge, influxClient *influxdb.Client, bridgeCfg zigbee.Config) {
	ticker := time.NewTicker(discoveryStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := bridge.GetMetrics()
			bound, err := bridge.Discovery().NodesWithStatus(zigbee.NodeStatusBound)
			if err != nil {
				continue
			}
			influxClient.WriteDiscoveryStats(bridgeCfg.BridgeID, m.Nodes, len(bound), m.PendingRetries)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	// Coordinator health is verified during bridge Start: the firmware
	// handshake and coordinator start must succeed before it returns.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the Zigbee
// bridge's MQTTClient interface. The Subscribe handler signature differs:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Zigbee bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements zigbee.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements zigbee.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements zigbee.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements zigbee.MQTTClient.
// The MQTT client lifecycle is owned by run's defer chain.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
