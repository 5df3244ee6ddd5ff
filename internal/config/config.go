package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/riftborne/treequeue/internal/record"
)

// Config is the full process configuration, assembled by Load from a
// config file (if present) and TREEQUEUE_-prefixed environment
// variables layered on top of the defaults in setDefaults.
type Config struct {
	Store    StoreConfig
	Pool     PoolConfig
	Gateway  GatewayConfig
	LogLevel string
}

// StoreConfig addresses the Redis instance backing the rtdb store
// adapter (internal/rtdb). The store's wire protocol is out of scope
// for the worker/pool core, but something has to dial it.
type StoreConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PoolConfig configures the task-queue Pool: how many Workers to run
// against the shared task node, the lifecycle states they share, and
// how long Shutdown is given to drain in-flight work before the
// owning process gives up waiting on it.
type PoolConfig struct {
	TaskPath        string
	NumWorkers      int
	StartState      string
	InProgressState string
	FinishedState   string
	ErrorState      string
	ShutdownTimeout time.Duration
}

// GatewayConfig configures the HTTP/WebSocket surface that submits
// tasks and exposes admin introspection over a running Pool — outside
// the queue worker's own scope, but part of a complete deployment.
type GatewayConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
	Auth         AuthConfig
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// Spec converts the config file's flat pool.* fields into the
// record.Spec a Pool is actually constructed with. An empty
// StartState/FinishedState string means "absent" (nil StartState
// matches tasks with no _state field at all, per record.Spec.MatchesStart).
func (p PoolConfig) Spec() record.Spec {
	spec := record.Spec{
		InProgressState: p.InProgressState,
		ErrorState:      p.ErrorState,
	}
	if p.StartState != "" {
		spec.StartState = record.StrPtr(p.StartState)
	}
	if p.FinishedState != "" {
		spec.FinishedState = record.StrPtr(p.FinishedState)
	}
	return spec
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/treequeue")

	setDefaults()

	viper.SetEnvPrefix("TREEQUEUE")
	viper.AutomaticEnv()

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

func setDefaults() {
	// Store defaults
	viper.SetDefault("store.addr", "localhost:6379")
	viper.SetDefault("store.password", "")
	viper.SetDefault("store.db", 0)
	viper.SetDefault("store.keyprefix", "treequeue")
	viper.SetDefault("store.poolsize", 100)
	viper.SetDefault("store.minidleconns", 10)
	viper.SetDefault("store.maxretries", 3)
	viper.SetDefault("store.dialtimeout", 5*time.Second)
	viper.SetDefault("store.readtimeout", 3*time.Second)
	viper.SetDefault("store.writetimeout", 3*time.Second)

	// Pool defaults
	viper.SetDefault("pool.taskpath", "tasks")
	viper.SetDefault("pool.numworkers", 4)
	viper.SetDefault("pool.startstate", "")
	viper.SetDefault("pool.inprogressstate", "in_progress")
	viper.SetDefault("pool.finishedstate", "")
	viper.SetDefault("pool.errorstate", "error")
	viper.SetDefault("pool.shutdowntimeout", 30*time.Second)

	// Gateway defaults
	viper.SetDefault("gateway.host", "0.0.0.0")
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.adminport", 8081)
	viper.SetDefault("gateway.readtimeout", 30*time.Second)
	viper.SetDefault("gateway.writetimeout", 30*time.Second)
	viper.SetDefault("gateway.idletimeout", 120*time.Second)
	viper.SetDefault("gateway.ratelimitrps", 1000)
	viper.SetDefault("gateway.auth.enabled", false)
	viper.SetDefault("gateway.auth.jwtsecret", "")
	viper.SetDefault("gateway.auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
