package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; the server URL
// and audio format require a restart and are deliberately absent.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	GestureChanged   bool
	NewGesture       GestureConfig
	ReconnectChanged bool
	NewReconnect     ReconnectConfig
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.GestureChanged || d.ReconnectChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Gesture != new.Gesture {
		d.GestureChanged = true
		d.NewGesture = new.Gesture
	}

	if old.Reconnect != new.Reconnect {
		d.ReconnectChanged = true
		d.NewReconnect = new.Reconnect
	}

	return d
}
