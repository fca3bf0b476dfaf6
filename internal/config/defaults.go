package config

import "time"

func Defaults() *Config {
	return &Config{
		Matrix: MatrixConfig{
			HomeserverURL: "http://localhost:8008",
			UserID:        "@matrixbot:localhost",
			AccessToken:   "${MATRIXBOT_ACCESS_TOKEN}",
		},
		Bot: BotConfig{
			CommandPrefix: "!bot ",
			AgentID:       "@agent1:localhost",
			KickReason:    "Removed on request",
			Farewell:      "Goodbye, everyone",

			SendBurst:         10,
			SendRatePerMinute: 60,
		},
		Sync: SyncConfig{
			Timeout:        30 * time.Second,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     15 * time.Second,
			InviteAttempts: 3,
		},
		Storage: StorageConfig{
			DatabasePath: "~/.matrixbot/matrixbot.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9102",
			Path:    "/metrics",
		},
	}
}
