package config

import (
	"fmt"
	"time"

	"github.com/marketops/mpimport/internal/db"
	"github.com/spf13/viper"
)

// ServerConfig holds the REST server settings.
type ServerConfig struct {
	Addr             string
	CORSOrigin       string
	MigrationsPath   string
	DataDir          string
	SessionRetention time.Duration
	JobTimeout       time.Duration
}

// Config is the full application configuration.
type Config struct {
	DB     db.Config
	Server ServerConfig
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8080",
		CORSOrigin:       "http://localhost:3000",
		MigrationsPath:   "./migrations",
		DataDir:          "./data",
		SessionRetention: 24 * time.Hour,
		JobTimeout:       30 * time.Minute,
	}
}

// Load reads config.yaml from configPath with environment overrides.
func Load(configPath string) (Config, error) {
	cfg := Config{
		DB:     db.DefaultConfig(),
		Server: DefaultServerConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()           // allow environment overrides
	v.SetEnvPrefix("MPIMPORT") // map env vars like MPIMPORT_DATABASE_HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("server.cors_origin")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.cors_origin") {
		cfg.Server.CORSOrigin = v.GetString("server.cors_origin")
	}
	if v.IsSet("server.migrations_path") {
		cfg.Server.MigrationsPath = v.GetString("server.migrations_path")
	}
	if v.IsSet("server.data_dir") {
		cfg.Server.DataDir = v.GetString("server.data_dir")
	}
	if v.IsSet("server.session_retention") {
		cfg.Server.SessionRetention = v.GetDuration("server.session_retention")
	}
	if v.IsSet("server.job_timeout") {
		cfg.Server.JobTimeout = v.GetDuration("server.job_timeout")
	}

	return cfg, nil
}
