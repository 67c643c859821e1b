package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"deye-monitor/config"
	"deye-monitor/internal/api"
	"deye-monitor/internal/collector"
	"deye-monitor/internal/inverter"
	"deye-monitor/internal/metrics"
	"deye-monitor/internal/modbus"
	"deye-monitor/internal/mqtt"
	"deye-monitor/internal/notify"
	"deye-monitor/internal/outage"
	"deye-monitor/internal/schedule"
	"deye-monitor/internal/scheduler"
	"deye-monitor/internal/stats"
	"deye-monitor/internal/storage"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deye-monitor",
		Short: "Deye inverter monitor",
		Long:  "Polls a Deye hybrid inverter over Modbus TCP and tracks grid outages and per-phase load statistics",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(testCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

func capabilityOverrides(cfg *config.Config) inverter.Overrides {
	return inverter.Overrides{
		Phases:    cfg.Inverter.Phases,
		PVStrings: cfg.Inverter.PVStrings,
		Battery:   cfg.Inverter.Battery,
		Generator: cfg.Inverter.Generator,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring service",
		Long:  "Start the poller, outage detector, stats aggregator, API server and MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := buildLogger(cfg.Logging)
			metrics.Register()

			// Create Modbus client
			modbusClient := modbus.NewClient(
				cfg.Inverter.IP,
				cfg.Inverter.Port,
				cfg.Inverter.SlaveID,
				cfg.Inverter.Timeout,
			)

			if err := modbusClient.Connect(); err != nil {
				logger.WithError(err).Warn("Inverter not reachable at startup, capability probes will fall back to conservative defaults")
			}

			// Resolve capabilities once; the register set is fixed from
			// here on.
			caps := inverter.NewDetector(modbusClient, logger).Detect(capabilityOverrides(cfg))

			// Persistence
			outageStore, err := storage.NewStore(filepath.Join(cfg.Storage.Dir, "outages.json"))
			if err != nil {
				return fmt.Errorf("failed to open outage store: %w", err)
			}
			statsStore, err := storage.NewStore(filepath.Join(cfg.Storage.Dir, "phase_stats.json"))
			if err != nil {
				return fmt.Errorf("failed to open stats store: %w", err)
			}

			loc, err := time.LoadLocation(cfg.Stats.Timezone)
			if err != nil {
				logger.WithError(err).Warn("Invalid stats timezone, using local time")
				loc = time.Local
			}

			// Create MQTT publisher
			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
			}, logger)
			if err != nil {
				logger.WithError(err).Warn("MQTT connection failed")
			} else if cfg.MQTT.Enabled {
				logger.WithField("broker", cfg.MQTT.Broker).Info("MQTT connected")
				if err := publisher.PublishHomeAssistantDiscovery(caps); err != nil {
					logger.WithError(err).Warn("Home Assistant discovery publish failed")
				}
			}

			// Notification fan-out
			dispatcher := notify.NewDispatcher(logger)
			dispatcher.Register(notify.NewLogSink(logger))
			if publisher != nil && publisher.Enabled() {
				dispatcher.Register(publisher)
			}

			// Outage detector
			outages := outage.NewDetector(
				cfg.Outage.VoltageThreshold,
				cfg.Outage.DebounceSamples,
				outageStore,
				dispatcher,
				logger,
			)
			if err := outages.Load(); err != nil {
				logger.WithError(err).Warn("Could not load outage history")
			}

			// Phase stats aggregator
			aggregator, err := stats.NewAggregator(statsStore, loc, cfg.Stats.HistorySize, cfg.Stats.RetentionDays, logger)
			if err != nil {
				return fmt.Errorf("failed to create stats aggregator: %w", err)
			}
			if err := aggregator.Load(); err != nil {
				logger.WithError(err).Warn("Could not load phase stats")
			}

			// Outage schedule
			provider, err := schedule.NewProvider(
				cfg.Schedule.Provider,
				cfg.Schedule.Group,
				cfg.Schedule.URL,
				cfg.Schedule.Region,
				cfg.Schedule.DSO,
			)
			if err != nil {
				return fmt.Errorf("failed to build schedule provider: %w", err)
			}
			schedules := schedule.NewService(provider, cfg.Schedule.Group, logger)

			// Create collector
			coll := collector.NewCollector(collector.CollectorConfig{
				Client:           modbusClient,
				Capabilities:     caps,
				Publisher:        publisher,
				Observers:        []collector.Observer{outages, aggregator},
				Interval:         cfg.Collector.Interval,
				OfflineInterval:  cfg.Collector.OfflineInterval,
				OfflineThreshold: cfg.Collector.OfflineThreshold,
				RetryCount:       cfg.Collector.RetryCount,
				RetryBackoff:     cfg.Collector.RetryBackoff,
				Enabled:          cfg.Collector.Enabled,
			}, logger)

			// Setup context for graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Handle signals
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			// Cron jobs: stats flush and schedule refresh
			jobs := scheduler.NewScheduler(aggregator, schedules, cfg.Stats.FlushInterval, cfg.Schedule.RefreshInterval, logger)
			if err := jobs.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			go schedules.Refresh(ctx)

			// Start collector in goroutine
			go func() {
				if err := coll.Start(ctx); err != nil {
					logger.WithError(err).Error("Collector error")
				}
			}()

			// Start API server if enabled
			var server *api.Server
			if cfg.API.Enabled {
				server = api.NewServer(api.ServerConfig{
					Port:         cfg.API.Port,
					Collector:    coll,
					Capabilities: caps,
					Outages:      outages,
					Stats:        aggregator,
					Schedules:    schedules,
				}, logger)

				go func() {
					if err := server.Start(); err != nil {
						logger.WithError(err).Error("API server error")
					}
				}()
			}

			logger.Info("Deye Monitor started. Press Ctrl+C to stop.")

			// Wait for signal
			<-sigChan
			logger.Info("Shutting down")
			cancel()

			jobs.Stop()
			aggregator.Flush()
			dispatcher.Wait()

			if server != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := server.Stop(shutdownCtx); err != nil {
					logger.WithError(err).Warn("API server shutdown failed")
				}
			}

			coll.Stop()

			return nil
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Read one telemetry snapshot",
		Long:  "Connect to the inverter and print one full Reading as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := buildLogger(cfg.Logging)

			client := modbus.NewClient(
				cfg.Inverter.IP,
				cfg.Inverter.Port,
				cfg.Inverter.SlaveID,
				cfg.Inverter.Timeout,
			)

			if err := client.Connect(); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer client.Close()

			caps := inverter.NewDetector(client, logger).Detect(capabilityOverrides(cfg))

			deye := inverter.NewDeye(client, caps)
			reading, err := deye.ReadReading()
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			output, _ := json.MarshalIndent(reading, "", "  ")
			fmt.Println(string(output))

			return nil
		},
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Detect inverter capabilities",
		Long:  "Probe the register map and print the detected phases, battery, PV strings and generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := buildLogger(cfg.Logging)

			client := modbus.NewClient(
				cfg.Inverter.IP,
				cfg.Inverter.Port,
				cfg.Inverter.SlaveID,
				cfg.Inverter.Timeout,
			)

			if err := client.Connect(); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer client.Close()

			caps := inverter.NewDetector(client, logger).Detect(capabilityOverrides(cfg))

			output, _ := json.MarshalIndent(caps, "", "  ")
			fmt.Println(string(output))

			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connection to the inverter",
		Long:  "Test the Modbus TCP connection to the inverter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := buildLogger(cfg.Logging)

			fmt.Printf("Testing connection to %s:%d...\n", cfg.Inverter.IP, cfg.Inverter.Port)

			client := modbus.NewClient(
				cfg.Inverter.IP,
				cfg.Inverter.Port,
				cfg.Inverter.SlaveID,
				cfg.Inverter.Timeout,
			)

			if err := client.Connect(); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}
			defer client.Close()

			if err := inverter.TestConnection(client); err != nil {
				fmt.Printf("Connection FAILED: %v\n", err)
				return err
			}

			fmt.Println("Connection SUCCESS!")

			caps := inverter.NewDetector(client, logger).Detect(capabilityOverrides(cfg))
			fmt.Printf("\nCapabilities:\n")
			fmt.Printf("  Phases:     %d\n", caps.Phases)
			fmt.Printf("  Battery:    %t\n", caps.HasBattery)
			fmt.Printf("  PV Strings: %d\n", caps.PVStrings)
			fmt.Printf("  Generator:  %t\n", caps.HasGenerator)

			deye := inverter.NewDeye(client, caps)
			reading, err := deye.ReadReading()
			if err != nil {
				fmt.Printf("Warning: Could not read data: %v\n", err)
			} else {
				fmt.Printf("\nCurrent Values:\n")
				fmt.Printf("  PV Power:      %.0f W\n", reading.PVPower)
				fmt.Printf("  Load Power:    %.0f W\n", reading.LoadPower)
				fmt.Printf("  Grid Power:    %.0f W\n", reading.GridPower)
				fmt.Printf("  Grid Voltage:  %.1f V\n", reading.MaxGridVoltage())
				if caps.HasBattery {
					fmt.Printf("  Battery SOC:   %.0f %%\n", reading.BatterySOC)
					fmt.Printf("  Battery Power: %.0f W\n", reading.BatteryPower)
				}
			}

			return nil
		},
	}
}
