package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentDownloads = 3
	maxSegmentsPerDownload = 8
	maxRetries             = 3
	retryDelay             = 2 * time.Second
	speedLimitKbps         = 0
	ingestionPort          = 8597
	showNotifications      = true
	minimizeToTray         = false
)

var (
	downloadDir = xdg.UserDirs.Download
	dataDir     = filepath.Join(xdg.DataHome, configFileName)
)
