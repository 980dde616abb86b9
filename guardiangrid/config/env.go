package config

import "os"

// ApplyEnvOverrides layers deployment-environment settings over the embedded
// configuration. Secrets in particular are expected to arrive through the
// environment, not the YAML file.
func ApplyEnvOverrides(cfg *AppConfig) {
	overrideString(&cfg.ProjectID, "GUARDIANGRID_PROJECT_ID")
	overrideString(&cfg.RunMode, "GUARDIANGRID_RUN_MODE")
	overrideString(&cfg.APIPort, "GUARDIANGRID_API_PORT")
	overrideString(&cfg.WebSocketPort, "GUARDIANGRID_WEBSOCKET_PORT")
	overrideString(&cfg.JWTSecret, "GUARDIANGRID_JWT_SECRET")
	overrideString(&cfg.Presence.Redis.Addr, "GUARDIANGRID_REDIS_ADDR")
	overrideString(&cfg.SMSAccountSID, "TWILIO_ACCOUNT_SID")
	overrideString(&cfg.SMSAuthToken, "TWILIO_AUTH_TOKEN")
	overrideString(&cfg.SMSFromNumber, "TWILIO_FROM_NUMBER")
}

func overrideString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
