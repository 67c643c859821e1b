package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Inverter  InverterConfig  `mapstructure:"inverter"`
	Collector CollectorConfig `mapstructure:"collector"`
	Outage    OutageConfig    `mapstructure:"outage"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	API       APIConfig       `mapstructure:"api"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// InverterConfig describes the Modbus endpoint plus capability
// overrides. Nil or zero override fields mean "probe the hardware".
type InverterConfig struct {
	IP        string        `mapstructure:"ip"`
	Port      int           `mapstructure:"port"`
	SlaveID   uint8         `mapstructure:"slave_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Phases    int           `mapstructure:"phases"`
	PVStrings int           `mapstructure:"pv_strings"`
	Battery   *bool         `mapstructure:"battery"`
	Generator *bool         `mapstructure:"generator"`
}

type CollectorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	OfflineInterval  time.Duration `mapstructure:"offline_interval"`
	OfflineThreshold int           `mapstructure:"offline_threshold"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	Enabled          bool          `mapstructure:"enabled"`
}

type OutageConfig struct {
	VoltageThreshold float64 `mapstructure:"voltage_threshold"`
	DebounceSamples  int     `mapstructure:"debounce_samples"`
}

type StatsConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	HistorySize   int           `mapstructure:"history_size"`
	RetentionDays int           `mapstructure:"retention_days"`
	Timezone      string        `mapstructure:"timezone"`
}

type ScheduleConfig struct {
	Provider        string        `mapstructure:"provider"`
	Group           string        `mapstructure:"group"`
	URL             string        `mapstructure:"url"`
	Region          int           `mapstructure:"region"`
	DSO             int           `mapstructure:"dso"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/deye-monitor")
	}

	viper.SetEnvPrefix("DEYE_MONITOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("inverter.ip", "192.168.1.100")
	viper.SetDefault("inverter.port", 502)
	viper.SetDefault("inverter.slave_id", 1)
	viper.SetDefault("inverter.timeout", "10s")
	viper.SetDefault("inverter.phases", 0)
	viper.SetDefault("inverter.pv_strings", 0)
	viper.SetDefault("collector.interval", "5s")
	viper.SetDefault("collector.offline_interval", "30s")
	viper.SetDefault("collector.offline_threshold", 3)
	viper.SetDefault("collector.retry_count", 2)
	viper.SetDefault("collector.retry_backoff", "250ms")
	viper.SetDefault("collector.enabled", true)
	viper.SetDefault("outage.voltage_threshold", 50.0)
	viper.SetDefault("outage.debounce_samples", 3)
	viper.SetDefault("stats.flush_interval", "1m")
	viper.SetDefault("stats.history_size", 720)
	viper.SetDefault("stats.retention_days", 31)
	viper.SetDefault("stats.timezone", "Local")
	viper.SetDefault("schedule.provider", "")
	viper.SetDefault("schedule.group", "2.1")
	viper.SetDefault("schedule.url", "")
	viper.SetDefault("schedule.region", 25)
	viper.SetDefault("schedule.dso", 902)
	viper.SetDefault("schedule.refresh_interval", "30m")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic_prefix", "deye")
	viper.SetDefault("mqtt.client_id", "deye-monitor")
	viper.SetDefault("storage.dir", "./data")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
