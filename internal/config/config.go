// Package config loads collector settings from an optional YAML file with
// environment variable overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides are read under both prefixes; MESHCOLLECT_ wins.
var envPrefixes = []string{"MESHCOLLECT_", "FLEET_"}

// App contains the full application configuration.
type App struct {
	Name                 string `yaml:"name"`
	DatabaseFile         string `yaml:"database_file"`
	MQTTBrokerAddress    string `yaml:"mqtt_broker_address"`
	MQTTPort             int    `yaml:"mqtt_port"`
	MQTTUsername         string `yaml:"mqtt_username"`
	MQTTPassword         string `yaml:"mqtt_password"`
	MQTTRootTopic        string `yaml:"mqtt_root_topic"`
	MQTTClientID         string `yaml:"mqtt_client_id"`
	LogLevel             string `yaml:"log_level"`
	LogJSON              bool   `yaml:"log_json"`
	ObservabilityAddress string `yaml:"observability_address"`
	MetricsNamespace     string `yaml:"metrics_namespace"`
}

// New reads the configuration from file (if provided) and environment overrides.
func New(path string) (*App, error) {
	cfg := defaultConfig()

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *App {
	return &App{
		Name:                 "Meshcollect",
		DatabaseFile:         "meshtastic.db",
		MQTTBrokerAddress:    "127.0.0.1",
		MQTTPort:             1883,
		MQTTRootTopic:        "msh",
		LogLevel:             "INFO",
		ObservabilityAddress: ":2112",
		MetricsNamespace:     "meshcollect",
	}
}

func (a *App) applyFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: file %s does not exist", path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, a); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides individual fields from environment variables. Prefixes
// are consulted in declaration order, so MESHCOLLECT_ wins over FLEET_.
func (a *App) applyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("NAME", &a.Name)
	setString("DATABASE_FILE", &a.DatabaseFile)
	setString("MQTT_BROKER_ADDRESS", &a.MQTTBrokerAddress)
	setInt("MQTT_PORT", &a.MQTTPort)
	setString("MQTT_USERNAME", &a.MQTTUsername)
	setString("MQTT_PASSWORD", &a.MQTTPassword)
	setString("MQTT_ROOT_TOPIC", &a.MQTTRootTopic)
	setString("MQTT_CLIENT_ID", &a.MQTTClientID)
	setString("LOG_LEVEL", &a.LogLevel)
	setBool("LOG_JSON", &a.LogJSON)
	setString("OBSERVABILITY_ADDRESS", &a.ObservabilityAddress)
	setString("METRICS_NAMESPACE", &a.MetricsNamespace)
}

func lookup(key string) (string, bool) {
	for _, prefix := range envPrefixes {
		if v, ok := os.LookupEnv(prefix + key); ok {
			return v, true
		}
	}
	return "", false
}

func (a *App) validate() error {
	if strings.TrimSpace(a.DatabaseFile) == "" {
		return errors.New("config: database_file must be provided")
	}
	if strings.TrimSpace(a.MQTTBrokerAddress) == "" {
		return errors.New("config: mqtt_broker_address must be provided")
	}
	if a.MQTTPort <= 0 || a.MQTTPort > 65535 {
		return fmt.Errorf("config: mqtt_port %d out of range", a.MQTTPort)
	}
	return nil
}
