package types

// ContractionConfig holds settings for the mean-utility contraction.
type ContractionConfig struct {
	// Tolerance is the sup-norm gap at which a market is converged (default 1e-12).
	Tolerance float64 `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance" validate:"gt=0"`

	// MaxIterations caps the iterations per market (default 1000).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations" validate:"gt=0"`

	// Damping scales each update; 1 is the undamped BLP contraction.
	Damping float64 `json:"damping" yaml:"damping" mapstructure:"damping" validate:"gt=0,lte=1"`

	// MinimumShare is the floor applied to predicted shares before the
	// logarithm (default 1e-300).
	MinimumShare float64 `json:"minimum_share" yaml:"minimum_share" mapstructure:"minimum_share" validate:"gt=0,lt=1"`

	// Workers bounds concurrent market solves; 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=0"`
}

// OptimizerConfig holds settings for the outer search over sigma.
type OptimizerConfig struct {
	// Method is nelder-mead or lbfgs.
	Method string `json:"method" yaml:"method" mapstructure:"method" validate:"oneof=nelder-mead lbfgs"`

	// MaxIterations caps major iterations (0 = no cap).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations" validate:"gte=0"`

	// Tolerance is the absolute objective change treated as convergence.
	Tolerance float64 `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance" validate:"gte=0"`
}

// GMMConfig holds settings for the GMM estimator.
type GMMConfig struct {
	// Steps is the number of GMM steps (1 or more).
	Steps int `json:"steps" yaml:"steps" mapstructure:"steps" validate:"gte=1,lte=10"`

	// UpdateWeighting replaces W with the robust S⁻¹ after each step.
	UpdateWeighting bool `json:"update_weighting" yaml:"update_weighting" mapstructure:"update_weighting"`

	// StepTolerance ends iterated GMM once the objective changes by less
	// than this between steps (0 = run every step).
	StepTolerance float64 `json:"step_tolerance" yaml:"step_tolerance" mapstructure:"step_tolerance" validate:"gte=0"`

	// ErrorOnNonConvergence fails the run when any market's contraction
	// did not converge.
	ErrorOnNonConvergence bool `json:"error_on_nonconvergence" yaml:"error_on_nonconvergence" mapstructure:"error_on_nonconvergence"`

	Optimizer OptimizerConfig `json:"optimizer" yaml:"optimizer" mapstructure:"optimizer"`
}

// DrawsConfig holds settings for Monte Carlo integration draws.
type DrawsConfig struct {
	// Count is the number of draws per market (default 200).
	Count int `json:"count" yaml:"count" mapstructure:"count" validate:"gt=0"`

	// Seed makes draws reproducible.
	Seed uint64 `json:"seed" yaml:"seed" mapstructure:"seed"`
}

// StoreConfig holds settings for the run store.
type StoreConfig struct {
	// Dir is the directory that holds runs.db (default "runs").
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir" validate:"required"`
}

// LogFormat selects the log encoding.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is a logrus level name (default "info").
	Level string `json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`

	// Format is text or json.
	Format LogFormat `json:"format" yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// Config groups all settings read from blp-engine.yaml.
type Config struct {
	Contraction ContractionConfig `json:"contraction" yaml:"contraction" mapstructure:"contraction"`
	GMM         GMMConfig         `json:"gmm" yaml:"gmm" mapstructure:"gmm"`
	Draws       DrawsConfig       `json:"draws" yaml:"draws" mapstructure:"draws"`
	Store       StoreConfig       `json:"store" yaml:"store" mapstructure:"store"`
	Log         LogConfig         `json:"log" yaml:"log" mapstructure:"log"`
}
