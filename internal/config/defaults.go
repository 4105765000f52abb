package config

const (
	defaultProcessedDir       = "~/.local/share/bookplayer/Processed"
	defaultInboxDir           = "~/.local/share/bookplayer/inbox"
	defaultLogDir             = "~/.local/share/bookplayer/logs"
	defaultStateDir           = "~/.local/share/bookplayer/state"
	defaultAPIBaseURL         = "https://api.bookplayer.app/v1"
	defaultAPIRequestTimeout  = 30
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultMaxRetryInterval   = 300
	defaultHashChunkKiB       = 1024
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

func defaultExtensions() []string {
	return []string{".mp3", ".m4a", ".m4b", ".aac", ".flac", ".ogg", ".opus", ".wav", ".mp4"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ProcessedDir: defaultProcessedDir,
			InboxDir:     defaultInboxDir,
			LogDir:       defaultLogDir,
			StateDir:     defaultStateDir,
		},
		API: API{
			BaseURL:        defaultAPIBaseURL,
			RequestTimeout: defaultAPIRequestTimeout,
		},
		Sync: Sync{
			Enabled:            true,
			WifiOnlyUploads:    false,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			MaxRetryInterval:   defaultMaxRetryInterval,
		},
		Import: Import{
			Extensions:   defaultExtensions(),
			HashChunkKiB: defaultHashChunkKiB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Imports:        true,
			Sync:           true,
			Audit:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
