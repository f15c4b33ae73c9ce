package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ListeningChanged is true when any VAD tuning or attempt limit changed.
	// Running attempts keep their old tuning; new attempts pick up the new one.
	ListeningChanged bool
	NewListening     ListeningConfig

	// VoiceChanged is true when the default synthesis voice of either TTS
	// provider changed.
	VoiceChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Listening != new.Listening {
		d.ListeningChanged = true
		d.NewListening = new.Listening
	}

	if old.Providers.TTS.Primary.Voice != new.Providers.TTS.Primary.Voice ||
		old.Providers.TTS.Fallback.Voice != new.Providers.TTS.Fallback.Voice {
		d.VoiceChanged = true
	}

	return d
}
