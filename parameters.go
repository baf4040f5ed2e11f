package cosim

import (
	"fmt"
	"math"
	"time"

	"github.com/GoCodeAlone/cosim/feeders"
)

// EnvPrefix is the prefix of environment variables that override file parameters.
const EnvPrefix = "COSIM"

// Parameters are the scientific and run parameters shared by every party of
// a co-simulation. They are loaded once, validated, then treated as fixed.
type Parameters struct {
	Dt                      float64 `yaml:"dt" toml:"dt" json:"dt" env:"DT" default:"0.1" required:"true"`
	SynchronizationTime     float64 `yaml:"synchronization_time" toml:"synchronization_time" json:"synchronization_time" env:"SYNCHRONIZATION_TIME" default:"1.0" required:"true"`
	SimulationLength        float64 `yaml:"simulation_length" toml:"simulation_length" json:"simulation_length" env:"SIMULATION_LENGTH" required:"true"`
	AdvanceForDelayedOutput bool    `yaml:"advance_for_delayed_output" toml:"advance_for_delayed_output" json:"advance_for_delayed_output" env:"ADVANCE_FOR_DELAYED_OUTPUT"`
	Seed                    uint64  `yaml:"seed" toml:"seed" json:"seed" env:"SEED" default:"42"`

	Flush FlushPolicy `yaml:"flush" toml:"flush" json:"flush"`

	Regions     int   `yaml:"regions" toml:"regions" json:"regions" env:"REGIONS" default:"4"`
	ProxyNodes  []int `yaml:"proxy_nodes" toml:"proxy_nodes" json:"proxy_nodes" env:"PROXY_NODES" default:"[0,1]" required:"true"`
	ProxyGroups []int `yaml:"proxy_groups" toml:"proxy_groups" json:"proxy_groups" env:"PROXY_GROUPS"`

	MeanField MeanFieldParameters `yaml:"meanfield" toml:"meanfield" json:"meanfield"`
	Spiking   SpikingParameters   `yaml:"spiking" toml:"spiking" json:"spiking"`

	Forward  TransformerParameters `yaml:"forward" toml:"forward" json:"forward"`
	Backward TransformerParameters `yaml:"backward" toml:"backward" json:"backward"`

	Monitoring MonitoringParameters `yaml:"monitoring" toml:"monitoring" json:"monitoring"`

	StatusAddr string `yaml:"status_addr" toml:"status_addr" json:"status_addr" env:"STATUS_ADDR"`
	ResultsDir string `yaml:"results_dir" toml:"results_dir" json:"results_dir" env:"RESULTS_DIR"`
}

// FlushPolicy sizes the extra cycle run after the requested length when
// delayed output has to be flushed.
type FlushPolicy struct {
	// WindowSteps is the flush window length; zero means one configured window.
	WindowSteps int `yaml:"window_steps" toml:"window_steps" json:"window_steps" env:"FLUSH_WINDOW_STEPS"`
	// AllowExceedWindow lets WindowSteps be longer than the configured window.
	// Otherwise it is clamped to it.
	AllowExceedWindow bool `yaml:"allow_exceed_window" toml:"allow_exceed_window" json:"allow_exceed_window" env:"FLUSH_ALLOW_EXCEED_WINDOW"`
}

// Steps returns the flush window length for a configured window of windowSteps.
func (p FlushPolicy) Steps(windowSteps int) int {
	n := p.WindowSteps
	if n <= 0 {
		return windowSteps
	}
	if n > windowSteps && !p.AllowExceedWindow {
		return windowSteps
	}
	return n
}

// MeanFieldParameters are the Wilson-Cowan coefficients of the macroscale side.
type MeanFieldParameters struct {
	TauE   float64 `yaml:"tau_e" toml:"tau_e" json:"tau_e" default:"10.0"`
	TauI   float64 `yaml:"tau_i" toml:"tau_i" json:"tau_i" default:"10.0"`
	CEE    float64 `yaml:"c_ee" toml:"c_ee" json:"c_ee" default:"10.0"`
	CEI    float64 `yaml:"c_ei" toml:"c_ei" json:"c_ei" default:"6.0"`
	CIE    float64 `yaml:"c_ie" toml:"c_ie" json:"c_ie" default:"10.0"`
	CII    float64 `yaml:"c_ii" toml:"c_ii" json:"c_ii" default:"1.0"`
	AlphaE float64 `yaml:"alpha_e" toml:"alpha_e" json:"alpha_e" default:"1.2"`
	AlphaI float64 `yaml:"alpha_i" toml:"alpha_i" json:"alpha_i" default:"2.0"`
	ThetaE float64 `yaml:"theta_e" toml:"theta_e" json:"theta_e" default:"2.0"`
	ThetaI float64 `yaml:"theta_i" toml:"theta_i" json:"theta_i" default:"3.5"`
	P      float64 `yaml:"p" toml:"p" json:"p" default:"0.5"`
	Q      float64 `yaml:"q" toml:"q" json:"q"`

	// GlobalCoupling scales the connectome input of every region.
	GlobalCoupling float64 `yaml:"global_coupling" toml:"global_coupling" json:"global_coupling" env:"GLOBAL_COUPLING" default:"0.1"`
	// Weights is a Regions x Regions connectome; empty means a ring.
	Weights [][]float64 `yaml:"weights" toml:"weights" json:"weights"`
	// Noise is the standard deviation of additive noise on E; zero disables it.
	Noise float64 `yaml:"noise" toml:"noise" json:"noise"`
	// Delay is the conduction delay of the connectome in ms. It bounds the
	// synchronization window from above.
	Delay float64 `yaml:"delay" toml:"delay" json:"delay" env:"DELAY" default:"1.0"`
	// Integrator is "heun" or "euler".
	Integrator string `yaml:"integrator" toml:"integrator" json:"integrator" default:"heun"`
}

// SpikingParameters describe the leaky integrate-and-fire populations of the
// microscale side.
type SpikingParameters struct {
	NeuronsPerGroup int     `yaml:"neurons_per_group" toml:"neurons_per_group" json:"neurons_per_group" env:"NEURONS_PER_GROUP" default:"10"`
	Resolution      float64 `yaml:"resolution" toml:"resolution" json:"resolution" default:"0.05"`
	TauM            float64 `yaml:"tau_m" toml:"tau_m" json:"tau_m" default:"20.0"`
	VThreshold      float64 `yaml:"v_threshold" toml:"v_threshold" json:"v_threshold" default:"20.0"`
	VReset          float64 `yaml:"v_reset" toml:"v_reset" json:"v_reset" default:"10.0"`
	Refractory      float64 `yaml:"refractory" toml:"refractory" json:"refractory" default:"2.0"`
	InputWeight     float64 `yaml:"input_weight" toml:"input_weight" json:"input_weight" default:"0.5"`

	// BackgroundRate is an independent Poisson drive per neuron, in Hz.
	BackgroundRate   float64 `yaml:"background_rate" toml:"background_rate" json:"background_rate" default:"800.0"`
	BackgroundWeight float64 `yaml:"background_weight" toml:"background_weight" json:"background_weight" default:"1.0"`
}

// TransformerParameters configure one transformation direction. An empty
// Model means pass-through.
type TransformerParameters struct {
	Model           string  `yaml:"model" toml:"model" json:"model"`
	ScaleFactor     float64 `yaml:"scale_factor" toml:"scale_factor" json:"scale_factor" default:"1.0"`
	NumberOfNeurons int     `yaml:"number_of_neurons" toml:"number_of_neurons" json:"number_of_neurons" default:"1"`
	// BinWidth is the histogram bin of spike-to-rate models; zero means dt.
	BinWidth float64 `yaml:"bin_width" toml:"bin_width" json:"bin_width"`
}

// MonitoringParameters configure the resource monitor.
type MonitoringParameters struct {
	Interval string `yaml:"interval" toml:"interval" json:"interval" env:"MONITORING_INTERVAL" default:"1s"`
}

// IntervalDuration parses Interval.
func (m MonitoringParameters) IntervalDuration() (time.Duration, error) {
	return time.ParseDuration(m.Interval)
}

// WindowSteps returns the configured synchronization window in steps.
func (p *Parameters) WindowSteps() (int, error) {
	return WindowSteps(p.SynchronizationTime, p.Dt)
}

// ProxyMap builds the proxy node bijection.
func (p *Parameters) ProxyMap() (*ProxyNodeMap, error) {
	return NewProxyNodeMap(p.ProxyNodes, p.ProxyGroups)
}

// Validate checks the invariants that tags cannot express.
func (p *Parameters) Validate() error {
	if !(p.Dt > 0) || math.IsInf(p.Dt, 0) {
		return fmt.Errorf("%w: dt=%g", ErrInvalidStepSize, p.Dt)
	}
	if _, err := p.WindowSteps(); err != nil {
		return err
	}
	if !(p.SimulationLength > 0) {
		return fmt.Errorf("%w: %g", ErrInvalidLength, p.SimulationLength)
	}
	if p.Flush.WindowSteps < 0 {
		return fmt.Errorf("flush window steps must not be negative: %d", p.Flush.WindowSteps)
	}
	if _, err := p.ProxyMap(); err != nil {
		return err
	}
	for _, r := range p.ProxyNodes {
		if r >= p.Regions {
			return fmt.Errorf("%w: proxy region %d outside %d regions", ErrProxyMapNotBijective, r, p.Regions)
		}
	}
	if n := len(p.MeanField.Weights); n != 0 && n != p.Regions {
		return fmt.Errorf("connectome has %d rows for %d regions", n, p.Regions)
	}
	if _, err := WindowSteps(p.MeanField.Delay, p.Dt); err != nil {
		return fmt.Errorf("connectome delay: %w", err)
	}
	switch p.MeanField.Integrator {
	case "heun", "euler":
	default:
		return fmt.Errorf("unknown integrator %q", p.MeanField.Integrator)
	}
	if p.Spiking.Resolution > 0 {
		sub := p.Dt / p.Spiking.Resolution
		if math.Abs(sub-math.Round(sub)) > 1e-6 {
			return fmt.Errorf("spiking resolution %g does not divide dt %g", p.Spiking.Resolution, p.Dt)
		}
	}
	if _, err := p.Monitoring.IntervalDuration(); err != nil {
		return fmt.Errorf("monitoring interval: %w", err)
	}
	return nil
}

// LoadParameters seeds the tag defaults, reads path with the feeder matching
// its extension, overlays COSIM_* environment variables and validates the
// result. Values set explicitly, zero included, win over defaults. Every
// failure is a configuration fault.
func LoadParameters(path string, extra ...feeders.Feeder) (*Parameters, error) {
	fileFeeder, err := feeders.ForFile(path)
	if err != nil {
		return nil, configurationError(fmt.Errorf("%w: %w", ErrUnsupportedParameters, err))
	}

	params := &Parameters{}
	if err := ProcessConfigDefaults(params); err != nil {
		return nil, configurationError(err)
	}
	chain := append([]feeders.Feeder{fileFeeder, feeders.NewEnvFeeder(EnvPrefix)}, extra...)
	for _, f := range chain {
		if err := f.Feed(params); err != nil {
			return nil, configurationError(err)
		}
	}
	if err := ValidateConfigRequired(params); err != nil {
		return nil, configurationError(err)
	}
	if err := params.Validate(); err != nil {
		return nil, configurationError(fmt.Errorf("%w: %w", ErrConfigValidationFailed, err))
	}
	return params, nil
}
