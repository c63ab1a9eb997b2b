package process

import (
	"fmt"
	"math"

	"codeberg.org/dltlab/dltcal/internal/errors"
)

// roundTo keeps accumulated float error out of file names and setpoint
// commands.
const roundTo = 1e9

// MaxSetpoints bounds the length of a generated sequence.
const MaxSetpoints = 10000

// SetpointSequence is the ordered list of target temperatures of a run. It
// is immutable once built.
type SetpointSequence struct {
	values []float64
}

// NewSetpointSequence walks from start towards stop in steps of step. The
// direction follows the sign of stop-start; a partial last step is dropped,
// so the sequence holds floor(|stop-start|/step)+1 values.
func NewSetpointSequence(start, stop, step float64) (SetpointSequence, error) {
	errFactory := errors.New()
	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SetpointSequence{}, errFactory.WithMessage(ErrInvalidSequence, "temperatures must be finite")
		}
	}
	if step <= 0 {
		return SetpointSequence{}, errFactory.WithMessage(ErrInvalidSequence,
			fmt.Sprintf("step must be positive, got %g", step))
	}

	dir := 1.0
	if stop < start {
		dir = -1.0
	}
	steps := math.Floor(math.Abs(stop-start)/step + 1e-9)
	if steps >= MaxSetpoints {
		return SetpointSequence{}, errFactory.WithMessage(ErrInvalidSequence,
			fmt.Sprintf("step %g gives more than %d setpoints", step, MaxSetpoints))
	}
	n := int(steps) + 1

	values := make([]float64, n)
	for i := range values {
		v := start + dir*float64(i)*step
		values[i] = math.Round(v*roundTo) / roundTo
	}
	return SetpointSequence{values: values}, nil
}

// SequenceOf builds a sequence from explicit values.
func SequenceOf(values ...float64) (SetpointSequence, error) {
	if len(values) == 0 {
		return SetpointSequence{}, errors.New().WithMessage(ErrInvalidSequence, "sequence is empty")
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SetpointSequence{}, errors.New().WithMessage(ErrInvalidSequence, "temperatures must be finite")
		}
	}
	return SetpointSequence{values: append([]float64(nil), values...)}, nil
}

func (s SetpointSequence) Len() int { return len(s.values) }

// At returns the i-th setpoint. It panics when i is out of range.
func (s SetpointSequence) At(i int) float64 { return s.values[i] }

// Values returns a copy of the setpoints.
func (s SetpointSequence) Values() []float64 {
	return append([]float64(nil), s.values...)
}
