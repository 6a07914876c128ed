package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	LogLevel string
	LogFile  string

	ConfigHome    string
	SetupFile     string
	DriverFile    string
	Interface     string
	Port          int
	DisableMDNS   bool
	AdminPort     string
	JWTSecret     string
	CORSOrigins   []string
	AdapterID     string
	Version       string
	MQTTBrokerURL string

	RedisAddr     string
	RedisPassword string
	CommandRPS    int
	CommandBurst  int

	HistoryDB  string
	SQLitePath string
	Postgres   DBConfig
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

func Load() *Config {
	home := getEnv("UC_CONFIG_HOME", ".")
	cfg := &Config{
		LogLevel:      getEnv("UC_LOG_LEVEL", "DEBUG"),
		LogFile:       strings.TrimSpace(os.Getenv("UC_LOG_FILE")),
		ConfigHome:    home,
		SetupFile:     filepath.Join(home, "setup.json"),
		DriverFile:    getEnv("UC_DRIVER_METADATA", "driver.json"),
		Interface:     getEnv("UC_INTEGRATION_INTERFACE", "0.0.0.0"),
		Port:          getInt("UC_INTEGRATION_HTTP_PORT", 9090),
		DisableMDNS:   parseBool(os.Getenv("UC_DISABLE_MDNS_PUBLISH")),
		AdminPort:     getEnv("INTG_ADMIN_PORT", "8096"),
		JWTSecret:     os.Getenv("INTG_JWT_SECRET"),
		CORSOrigins:   splitList(os.Getenv("INTG_CORS_ORIGINS")),
		AdapterID:     getEnv("INTG_ADAPTER_ID", "intg-requests"),
		Version:       getEnv("INTG_VERSION", "dev"),
		MQTTBrokerURL: strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CommandRPS:    getInt("INTG_COMMAND_RPS", 5),
		CommandBurst:  getInt("INTG_COMMAND_BURST", 10),
		HistoryDB:     strings.ToLower(getEnv("HISTORY_DB", "sqlite")),
		SQLitePath:    getEnv("HISTORY_SQLITE_PATH", filepath.Join(home, "history.db")),
		Postgres: DBConfig{
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnv("POSTGRES_DB", "intg_requests"),
			Host:     getEnv("POSTGRES_HOST", "postgres"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
	}
	slog.Info("intg-requests config loaded", "setup", cfg.SetupFile, "port", cfg.Port, "admin_port", cfg.AdminPort, "mqtt", cfg.MQTTBrokerURL, "history_db", cfg.HistoryDB)
	return cfg
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env, using default", "key", k, "value", v, "default", def)
		return def
	}
	return n
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
