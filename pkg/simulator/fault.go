package simulator

import (
	"sync"
	"time"

	"github.com/EmilMarian/vast/pkg/entities"
	"github.com/pkg/errors"
)

const (
	DefaultSpikeProbability   = 0.20
	DefaultDropoutProbability = 0.70
)

var (
	// ErrInvalidFaultMode is returned when an unknown mode is requested.
	// The previous fault state is left untouched.
	ErrInvalidFaultMode = errors.New("invalid fault mode")

	// ErrSensorCommunication is the injected dropout failure. Callers
	// must treat it as "no reading this cycle", not as a zero value.
	ErrSensorCommunication = errors.New("sensor communication failure")
)

var validFaultModes = map[string]struct{}{
	entities.FaultNone:    {},
	entities.FaultStuck:   {},
	entities.FaultDrift:   {},
	entities.FaultSpike:   {},
	entities.FaultDropout: {},
}

// FaultState holds the active fault mode and its parameters for one
// sensor. Each sensor owns exactly one FaultState; it is never shared.
type FaultState struct {
	Mode               string
	Value              float64
	Duration           float64
	Start              time.Time
	SpikeProbability   float64
	DropoutProbability float64
}

// Status is the wire shape of GET /simulate/status.
type Status struct {
	FaultMode string  `json:"fault_mode"`
	Value     float64 `json:"value"`
	Duration  float64 `json:"duration"`
	Elapsed   float64 `json:"elapsed"`
}

// Simulator distorts baseline readings according to the owned
// FaultState. Safe for concurrent use by the publish loop and the
// fault-control handler.
type Simulator struct {
	mu                sync.Mutex
	state             FaultState
	calibrationOffset float64
	random            RandomSource
	now               func() time.Time
}

func New(random RandomSource) *Simulator {
	return &Simulator{
		state: FaultState{
			Mode:               entities.FaultNone,
			SpikeProbability:   DefaultSpikeProbability,
			DropoutProbability: DefaultDropoutProbability,
		},
		random: random,
		now:    time.Now,
	}
}

// Set atomically replaces the fault state. Unknown modes are rejected
// without mutating anything; setting "none" clears all parameters.
func (s *Simulator) Set(mode string, value, duration float64) error {
	if _, ok := validFaultModes[mode]; !ok {
		return errors.Wrap(ErrInvalidFaultMode, mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spike := s.state.SpikeProbability
	dropout := s.state.DropoutProbability
	if mode == entities.FaultNone {
		value, duration = 0, 0
	}
	s.state = FaultState{
		Mode:               mode,
		Value:              value,
		Duration:           duration,
		Start:              s.now(),
		SpikeProbability:   spike,
		DropoutProbability: dropout,
	}
	return nil
}

// SetProbabilities tunes the per-call spike and dropout chances.
// Arguments outside [0, 1] are ignored for that probability.
func (s *Simulator) SetProbabilities(spike, dropout float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spike >= 0 && spike <= 1 {
		s.state.SpikeProbability = spike
	}
	if dropout >= 0 && dropout <= 1 {
		s.state.DropoutProbability = dropout
	}
}

// Apply transforms a baseline reading according to the active fault
// mode, then adds the calibration offset. Dropout returns
// ErrSensorCommunication instead of a value.
func (s *Simulator) Apply(baseline float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Mode {
	case entities.FaultNone:
		return baseline + s.calibrationOffset, nil

	case entities.FaultStuck:
		return s.state.Value + s.calibrationOffset, nil

	case entities.FaultDrift:
		elapsed := s.now().Sub(s.state.Start).Seconds()
		factor := 1.0
		if s.state.Duration > 0 {
			factor = elapsed / s.state.Duration
			if factor > 1.0 {
				factor = 1.0
			}
			if factor < 0 {
				factor = 0
			}
		}
		return baseline + factor*s.state.Value + s.calibrationOffset, nil

	case entities.FaultSpike:
		if s.random.Float64() < s.state.SpikeProbability {
			return baseline + s.state.Value + s.calibrationOffset, nil
		}
		return baseline + s.calibrationOffset, nil

	case entities.FaultDropout:
		if s.random.Float64() < s.state.DropoutProbability {
			return 0, ErrSensorCommunication
		}
		return baseline + s.calibrationOffset, nil
	}
	return baseline + s.calibrationOffset, nil
}

// Status reports the active mode and how long it has been running.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := 0.0
	if s.state.Mode != entities.FaultNone {
		elapsed = s.now().Sub(s.state.Start).Seconds()
	}
	return Status{
		FaultMode: s.state.Mode,
		Value:     s.state.Value,
		Duration:  s.state.Duration,
		Elapsed:   elapsed,
	}
}

// Calibrate sets the additive correction applied to every reading.
func (s *Simulator) Calibrate(offset float64) {
	s.mu.Lock()
	s.calibrationOffset = offset
	s.mu.Unlock()
}

func (s *Simulator) CalibrationOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calibrationOffset
}
