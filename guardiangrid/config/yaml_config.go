// Package config defines the service configuration, loaded from an embedded
// YAML file and refined with environment overrides.
package config

import (
	"fmt"
	"time"
)

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

// YamlPresenceConfig selects the presence cache backing store.
type YamlPresenceConfig struct {
	Type  string          `yaml:"type"` // "redis" or "memory"
	Redis YamlRedisConfig `yaml:"redis"`
}

type YamlFirestoreConfig struct {
	AlertsCollection   string `yaml:"alerts_collection"`
	SheltersCollection string `yaml:"shelters_collection"`
	ContactsCollection string `yaml:"contacts_collection"`
}

type YamlSMSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
	Timeout    string `yaml:"timeout"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml
// file.
type YamlConfig struct {
	ProjectID     string              `yaml:"project_id"`
	RunMode       string              `yaml:"run_mode"`
	APIPort       string              `yaml:"api_port"`
	WebSocketPort string              `yaml:"websocket_port"`
	JWTSecret     string              `yaml:"jwt_secret"`
	Cors          YamlCorsConfig      `yaml:"cors"`
	Presence      YamlPresenceConfig  `yaml:"presence"`
	Firestore     YamlFirestoreConfig `yaml:"firestore"`
	SMS           YamlSMSConfig       `yaml:"sms"`
}

// AppConfig is the canonical, validated configuration object used throughout
// the application.
type AppConfig struct {
	ProjectID     string
	RunMode       string
	APIPort       string
	WebSocketPort string
	JWTSecret     string
	Cors          YamlCorsConfig
	Presence      YamlPresenceConfig
	Firestore     YamlFirestoreConfig
	SMSEnabled    bool
	SMSAccountSID string
	SMSAuthToken  string
	SMSFromNumber string
	SMSTimeout    time.Duration
}

// NewConfigFromYaml converts the raw unmarshaled YamlConfig into a validated
// AppConfig, without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	if yamlCfg.APIPort == "" {
		return nil, fmt.Errorf("api_port is required")
	}
	if yamlCfg.WebSocketPort == "" {
		return nil, fmt.Errorf("websocket_port is required")
	}

	smsTimeout := 10 * time.Second
	if yamlCfg.SMS.Timeout != "" {
		parsed, err := time.ParseDuration(yamlCfg.SMS.Timeout)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid sms timeout %q", yamlCfg.SMS.Timeout)
		}
		smsTimeout = parsed
	}

	appCfg := &AppConfig{
		ProjectID:     yamlCfg.ProjectID,
		RunMode:       yamlCfg.RunMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		JWTSecret:     yamlCfg.JWTSecret,
		Cors:          yamlCfg.Cors,
		Presence:      yamlCfg.Presence,
		Firestore:     yamlCfg.Firestore,
		SMSEnabled:    yamlCfg.SMS.Enabled,
		SMSAccountSID: yamlCfg.SMS.AccountSID,
		SMSAuthToken:  yamlCfg.SMS.AuthToken,
		SMSFromNumber: yamlCfg.SMS.FromNumber,
		SMSTimeout:    smsTimeout,
	}

	return appCfg, nil
}
