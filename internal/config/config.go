// Package config loads the on-disk configuration consumed by the engine,
// queue manager, and ingestion endpoint. The CLI/GUI surface is external;
// this package only owns the recognized option set and its defaults.
package config

import (
	"os"
	"path/filepath"
	"reflect"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "qdm"

// Config holds every recognized configuration option.
type Config struct {
	DownloadDir            string           `yaml:"downloadDir,omitempty"`
	DataDir                string           `yaml:"dataDir,omitempty"`
	MaxConcurrentDownloads int              `yaml:"maxConcurrentDownloads,omitempty"`
	MaxSegmentsPerDownload int              `yaml:"maxSegmentsPerDownload,omitempty"`
	MaxRetries             int              `yaml:"maxRetries,omitempty"`
	SpeedLimitKbps         int64            `yaml:"speedLimitKbps,omitempty"`
	Ingestion              *IngestionConfig `yaml:"ingestion,omitempty"`
	ShowNotifications      bool             `yaml:"showNotifications,omitempty"`
	MinimizeToTray         bool             `yaml:"minimizeToTray,omitempty"`
}

// IngestionConfig configures the loopback HTTP listener that browser agents
// POST detected downloads/media to.
type IngestionConfig struct {
	Enabled         bool     `yaml:"enabled,omitempty"`
	Port            int      `yaml:"port,omitempty"`
	BlockedHosts    []string `yaml:"blockedHosts,omitempty"`
	FileExts        []string `yaml:"fileExts,omitempty"`
	RequestFileExts []string `yaml:"requestFileExts,omitempty"`
	MediaTypes      []string `yaml:"mediaTypes,omitempty"`
}

func (c *IngestionConfig) IsConfig() bool { return true }

// Load reads the configuration file and returns a Config, merging the
// default for every zero-valued field. If the configuration file does not
// exist, Load returns the defaults unmodified.
func Load() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName, "config.yaml")
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}
		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	ingestCfg := zeroOr(cfg.Ingestion, defaults.Ingestion)

	return &Config{
		DownloadDir:            zeroOr(cfg.DownloadDir, defaults.DownloadDir),
		DataDir:                zeroOr(cfg.DataDir, defaults.DataDir),
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		MaxSegmentsPerDownload: zeroOr(cfg.MaxSegmentsPerDownload, defaults.MaxSegmentsPerDownload),
		MaxRetries:             zeroOr(cfg.MaxRetries, defaults.MaxRetries),
		SpeedLimitKbps:         zeroOr(cfg.SpeedLimitKbps, defaults.SpeedLimitKbps),
		Ingestion: &IngestionConfig{
			Enabled:         zeroOr(ingestCfg.Enabled, defaults.Ingestion.Enabled),
			Port:            zeroOr(ingestCfg.Port, defaults.Ingestion.Port),
			BlockedHosts:    zeroOr(ingestCfg.BlockedHosts, defaults.Ingestion.BlockedHosts),
			FileExts:        zeroOr(ingestCfg.FileExts, defaults.Ingestion.FileExts),
			RequestFileExts: zeroOr(ingestCfg.RequestFileExts, defaults.Ingestion.RequestFileExts),
			MediaTypes:      zeroOr(ingestCfg.MediaTypes, defaults.Ingestion.MediaTypes),
		},
		ShowNotifications: zeroOr(cfg.ShowNotifications, defaults.ShowNotifications),
		MinimizeToTray:    zeroOr(cfg.MinimizeToTray, defaults.MinimizeToTray),
	}, nil
}

func DefaultConfig() Config {
	return Config{
		DownloadDir:            downloadDir,
		DataDir:                dataDir,
		MaxConcurrentDownloads: maxConcurrentDownloads,
		MaxSegmentsPerDownload: maxSegmentsPerDownload,
		MaxRetries:             maxRetries,
		SpeedLimitKbps:         speedLimitKbps,
		Ingestion: &IngestionConfig{
			Enabled:         true,
			Port:            ingestionPort,
			FileExts:        []string{".zip", ".exe", ".mp4", ".mkv", ".iso", ".pdf", ".dmg", ".deb"},
			RequestFileExts: []string{},
			MediaTypes:      []string{"video", "audio/mpeg", "application/vnd.apple.mpegurl", "application/dash+xml"},
		},
		ShowNotifications: showNotifications,
		MinimizeToTray:    minimizeToTray,
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}
	return v
}
