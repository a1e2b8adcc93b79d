package config

// Diff describes what changed between two configs. Only fields that can
// safely be applied without restarting the pipeline are tracked; everything
// else sets RestartRequired.
type Diff struct {
	// LogLevelChanged reports a server.log_level change, applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WindowChanged reports a window tuning change, applied to the next
	// buffer the engine creates.
	WindowChanged bool

	// EvaluatorChanged reports an evaluator tuning change.
	EvaluatorChanged bool

	// RestartRequired reports changes outside the hot-reloadable set
	// (providers, livekit, room, kafka, resilience, listen address).
	RestartRequired bool
}

// Compare returns the [Diff] between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Window != new.Window {
		d.WindowChanged = true
	}
	if old.Evaluator != new.Evaluator {
		d.EvaluatorChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.LiveKit != new.LiveKit ||
		!roomEqual(old.Room, new.Room) ||
		old.Providers != new.Providers ||
		!kafkaEqual(old.Kafka, new.Kafka) ||
		old.Resilience != new.Resilience {
		d.RestartRequired = true
	}
	return d
}

// roomEqual compares RoomConfig values including the roles map, which makes
// the struct uncomparable with ==.
func roomEqual(a, b RoomConfig) bool {
	if a.Name != b.Name ||
		a.Language != b.Language ||
		a.MinParticipants != b.MinParticipants ||
		a.ParticipantWaitSeconds != b.ParticipantWaitSeconds ||
		a.StabilizationSeconds != b.StabilizationSeconds ||
		a.RecruiterHint != b.RecruiterHint ||
		a.CandidateHint != b.CandidateHint {
		return false
	}
	if len(a.Roles) != len(b.Roles) {
		return false
	}
	for k, v := range a.Roles {
		if b.Roles[k] != v {
			return false
		}
	}
	return true
}

// kafkaEqual compares KafkaConfig values including the broker list.
func kafkaEqual(a, b KafkaConfig) bool {
	if a.Enabled != b.Enabled ||
		a.TopicWindows != b.TopicWindows ||
		a.TopicEvaluations != b.TopicEvaluations ||
		len(a.Brokers) != len(b.Brokers) {
		return false
	}
	for i := range a.Brokers {
		if a.Brokers[i] != b.Brokers[i] {
			return false
		}
	}
	return true
}
