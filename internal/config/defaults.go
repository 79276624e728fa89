package config

const (
	defaultConfigPath           = "~/.config/cropwatch/config.toml"
	defaultStateDir             = "~/.local/share/cropwatch"
	defaultLogDir               = "~/.local/share/cropwatch/logs"
	defaultSourceKind           = "file"
	defaultSourcePath           = "~/.local/share/cropwatch/snapshot.json"
	defaultSourceTimeout        = 15
	defaultPollInterval         = 60
	defaultLockTimeout          = 30
	defaultStateBackend         = "sqlite"
	defaultLedgerRetentionHours = 72
	defaultNotifyTimeout        = 10
	defaultNotifyRatePerMinute  = 30
	defaultNotifyBurst          = 5
	defaultCategoryMode         = ModeGrouped
	defaultAPIBind              = "127.0.0.1:7488"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Aggregation modes accepted by categories.mode and categories.modes.
const (
	ModeGrouped    = "grouped"
	ModeIndividual = "individual"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Source: Source{
			Kind:           defaultSourceKind,
			Path:           defaultSourcePath,
			TimeoutSeconds: defaultSourceTimeout,
		},
		Poll: Poll{
			IntervalSeconds:    defaultPollInterval,
			LockTimeoutSeconds: defaultLockTimeout,
		},
		State: State{
			Backend:              defaultStateBackend,
			LedgerRetentionHours: defaultLedgerRetentionHours,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RatePerMinute:  defaultNotifyRatePerMinute,
			Burst:          defaultNotifyBurst,
		},
		Categories: Categories{
			Mode: defaultCategoryMode,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
