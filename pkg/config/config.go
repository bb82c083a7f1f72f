// Package config decodes and validates the configuration of a coupling
// scheme from YAML, the way an adapter would load it before constructing
// the scheme.
package config

// SchemeConfig mirrors the construction parameters of a coupling scheme
// (see BaseCouplingScheme's construction contract). Pointer fields that
// are nil mean "undefined" in the sense of the scheme's sentinel values.
type SchemeConfig struct {
	// LocalParticipantName identifies this process among the coupling partners.
	LocalParticipantName string `yaml:"local_participant_name" validate:"required"`

	// MaxTime is the simulated end time, or nil if undefined.
	MaxTime *float64 `yaml:"max_time,omitempty" validate:"omitempty,gt=0"`

	// MaxTimeWindows bounds the number of windows, or nil if undefined.
	MaxTimeWindows *int `yaml:"max_time_windows,omitempty" validate:"omitempty,gt=0"`

	// TimeWindowSize is the active window size, or nil when dynamically negotiated.
	TimeWindowSize *float64 `yaml:"time_window_size,omitempty" validate:"omitempty,gt=0"`

	// CouplingMode is "explicit" or "implicit".
	CouplingMode string `yaml:"coupling_mode" validate:"required,oneof=explicit implicit"`

	// DtMethod is "fixed" or "first_participant".
	DtMethod string `yaml:"dt_method" validate:"required,oneof=fixed first_participant"`

	// DoesFirstStep marks the participant that dictates dt under
	// FirstParticipantDt and never owns the convergence decision.
	DoesFirstStep bool `yaml:"does_first_step,omitempty"`

	// MinIterations and MaxIterations only apply to implicit coupling.
	// MaxIterations of -1 means INFINITE_MAX_ITERATIONS.
	MinIterations *int `yaml:"min_iterations,omitempty" validate:"omitempty,gte=1"`
	MaxIterations *int `yaml:"max_iterations,omitempty"`

	// Logging configures the ambient logger for this scheme instance.
	Logging LoggingConfig `yaml:"logging,omitempty" validate:"omitempty"`

	// Persistence configures where iteration/convergence logs land.
	Persistence PersistenceConfig `yaml:"persistence,omitempty" validate:"omitempty"`
}

// LoggingConfig controls the severity and destinations of the scheme's logger.
type LoggingConfig struct {
	Level          string `yaml:"level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL"`
	Color          bool   `yaml:"color,omitempty"`
	FlightRecorder bool   `yaml:"flight_recorder,omitempty"`
}

// PersistenceConfig controls the iteration/convergence log sinks.
type PersistenceConfig struct {
	// Dir is where the TXT table writer places precice-<participant>-*.log files.
	Dir string `yaml:"dir,omitempty"`

	// SQLitePath, if set, additionally mirrors every row into a sqlite database.
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// Default returns a minimal valid explicit-coupling configuration, handy
// as a starting point for tests and the demo CLI.
func Default(participant string) *SchemeConfig {
	windowSize := 0.1
	return &SchemeConfig{
		LocalParticipantName: participant,
		TimeWindowSize:       &windowSize,
		CouplingMode:         "explicit",
		DtMethod:             "fixed",
	}
}
