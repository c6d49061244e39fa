package config

import "path/filepath"

func Defaults() *Config {
	dataDir := "~/.chronicler"
	return &Config{
		General: GeneralConfig{
			DataDir:  dataDir,
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			Token: "${DISCORD_TOKEN}",
		},
		Archive: ArchiveConfig{
			DBPath:             filepath.Join(dataDir, "archive.db"),
			MediaDir:           filepath.Join(dataDir, "media"),
			MaxAttachmentBytes: 100 << 20,
			HistoryEnabled:     false,
			BackfillEnabled:    false,
			BackfillQueueSize:  1024,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9290",
		},
	}
}
