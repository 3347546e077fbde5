// Package app translates the loaded configuration into per-component
// configs.
package app

import (
	"strings"

	"github.com/meshwatch/meshcollect/internal/config"
	"github.com/meshwatch/meshcollect/internal/mqtt"
)

// BuildMQTTConfig translates the application configuration into an MQTT client config.
func BuildMQTTConfig(cfg *config.App) mqtt.Config {
	if cfg == nil {
		return mqtt.Config{}
	}

	return mqtt.Config{
		BrokerHost: strings.TrimSpace(cfg.MQTTBrokerAddress),
		BrokerPort: cfg.MQTTPort,
		Username:   strings.TrimSpace(cfg.MQTTUsername),
		Password:   strings.TrimSpace(cfg.MQTTPassword),
		RootTopic:  strings.TrimSpace(cfg.MQTTRootTopic),
		ClientID:   strings.TrimSpace(cfg.MQTTClientID),
	}
}
