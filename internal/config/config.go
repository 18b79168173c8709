package config

import (
	"encoding/json"
	"errors"
	"os"
)

// StoreBacking selects the offline store implementation.
const (
	StoreBackingMemory = "memory"
	StoreBackingRedis  = "redis"
	StoreBackingMongo  = "mongo"
)

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`
	Heartbeat struct {
		// Interval is the client emission period, Timeout the server-side
		// liveness threshold. Timeout must exceed Interval or sessions get
		// demoted while the client is still alive.
		Interval     string `json:"interval"`
		Timeout      string `json:"timeout"`
		MonitorTick  string `json:"monitor_tick"`
		SessionGrace string `json:"session_grace"`
	} `json:"heartbeat"`
	Store struct {
		Backing string `json:"backing"`
		Redis   struct {
			Addr     string `json:"addr"`
			Password string `json:"password"`
			DB       int    `json:"db"`
		} `json:"redis"`
		Database struct {
			Host               string `json:"host"`
			Port               uint64 `json:"port"`
			Username           string `json:"username"`
			Password           string `json:"password"`
			Database           string `json:"database"`
			UseTLS             bool   `json:"use_tls"`
			ConnectTimeout     string `json:"connect_timeout"`
			SocketTimeout      string `json:"socket_timeout"`
			ConnectIdleTimeout string `json:"connect_idle_timeout"`
			OperationTimeout   string `json:"operation_timeout"`
			Heartbeat          string `json:"heartbeat"`
			MinPoolSize        uint64 `json:"min_pool_size"`
			MaxPoolSize        uint64 `json:"max_pool_size"`
		} `json:"database"`
	} `json:"store"`
	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
}

var config Config
var initialized = false

// DefaultConfig mirrors the original deployment values: loopback relay on
// port 5000, 5s client heartbeats against a 15s timeout.
func DefaultConfig() Config {
	var cfg Config
	cfg.AppName = "peerlink-relay"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 5000
	cfg.Heartbeat.Interval = "5s"
	cfg.Heartbeat.Timeout = "15s"
	cfg.Heartbeat.MonitorTick = "5s"
	cfg.Heartbeat.SessionGrace = "0s"
	cfg.Store.Backing = StoreBackingMemory
	cfg.Store.Redis.Addr = "127.0.0.1:6379"
	cfg.Store.Database.Host = "127.0.0.1"
	cfg.Store.Database.Port = 27017
	cfg.Store.Database.Database = "peerlink"
	cfg.Store.Database.ConnectTimeout = "10s"
	cfg.Store.Database.SocketTimeout = "10s"
	cfg.Store.Database.ConnectIdleTimeout = "5m"
	cfg.Store.Database.OperationTimeout = "5s"
	cfg.Store.Database.Heartbeat = "10s"
	cfg.Store.Database.MinPoolSize = 1
	cfg.Store.Database.MaxPoolSize = 16
	return cfg
}

func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		config = DefaultConfig()
		writer, _ := os.OpenFile("config.json", os.O_WRONLY|os.O_CREATE, 0777)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	config = DefaultConfig()
	err = json.Unmarshal(bytes, &config)

	if err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}

// SetConfig overrides the process config, used by tests and by flag handling
// in the binaries.
func SetConfig(cfg Config) {
	config = cfg
	initialized = true
}
