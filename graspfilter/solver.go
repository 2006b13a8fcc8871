package graspfilter

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// Solver is one inverse kinematics solver instance. Instances are not assumed
// safe for concurrent calls; the kinematic filter gives each worker exclusive
// ownership of exactly one instance.
type Solver interface {
	// Solve attempts to find joint values placing the end effector at goal,
	// expressed in the solver's own root frame, starting from seed. It must
	// respect ctx cancellation and deadlines.
	Solve(ctx context.Context, goal spatialmath.Pose, seed []referenceframe.Input) ([]referenceframe.Input, error)

	// RootOffset reports the static transform from the planning frame to the
	// root link the solver expects goals in.
	RootOffset() spatialmath.Pose

	// DoF reports the joint limits of the chain being solved.
	DoF() []referenceframe.Limit
}

var errIKNoSolution = errors.New("no IK solution within tolerance")

const (
	defaultMaxIterations = 5000
	defaultSolveEpsilon  = 1e-4 // squared-distance units; ~0.01mm positional
	gradientJump         = 1e-6
	orientationScaling   = 10.0
)

// Kinematics is the forward kinematics surface the model-backed solver needs.
// referenceframe.Model satisfies it.
type Kinematics interface {
	Transform([]referenceframe.Input) (spatialmath.Pose, error)
	DoF() []referenceframe.Limit
}

// ModelSolver solves IK by damped gradient descent over a forward kinematic
// model, with random restarts within joint limits when descent stalls. It is
// deterministic for a fixed seed value.
type ModelSolver struct {
	frame         Kinematics
	offset        spatialmath.Pose
	logger        logging.Logger
	maxIterations int
	epsilon       float64
	random        *rand.Rand
}

// NewModelSolver wraps a forward kinematic frame as a Solver. offset is the
// static planning-frame to chain-root transform; nil means the chain root is
// the planning frame origin. rseed fixes the restart sequence so separate
// instances explore different seeds.
func NewModelSolver(logger logging.Logger, frame Kinematics, offset spatialmath.Pose, rseed int64) *ModelSolver {
	if offset == nil {
		offset = spatialmath.NewZeroPose()
	}
	return &ModelSolver{
		frame:         frame,
		offset:        offset,
		logger:        logger,
		maxIterations: defaultMaxIterations,
		epsilon:       defaultSolveEpsilon,
		//nolint:gosec
		random: rand.New(rand.NewSource(rseed)),
	}
}

func (ms *ModelSolver) RootOffset() spatialmath.Pose { return ms.offset }

func (ms *ModelSolver) DoF() []referenceframe.Limit { return ms.frame.DoF() }

// Solve runs descent until the goal metric drops below tolerance, the
// iteration budget runs out, or ctx expires.
func (ms *ModelSolver) Solve(
	ctx context.Context,
	goal spatialmath.Pose,
	seed []referenceframe.Input,
) ([]referenceframe.Input, error) {
	limits := ms.frame.DoF()
	if len(limits) == 0 {
		return nil, errors.New("solver frame has no degrees of freedom")
	}
	if len(seed) != len(limits) {
		return nil, errors.Errorf("seed has %d values, chain has %d joints", len(seed), len(limits))
	}

	current := append([]referenceframe.Input{}, seed...)
	dist, err := ms.goalDist(goal, current)
	if err != nil {
		return nil, err
	}

	stepSize := 0.1
	for iteration := 0; iteration < ms.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if dist < ms.epsilon {
			return current, nil
		}

		gradient, err := ms.gradient(goal, current, dist, limits)
		if err != nil {
			return nil, err
		}

		next, improved := ms.descendStep(goal, current, gradient, limits, dist, &stepSize)
		if !improved {
			// Descent stalled in a local minimum; restart from a random
			// in-bounds configuration, same as the parallel nlopt solvers do.
			current = randomInputs(ms.random, limits)
			d, err := ms.goalDist(goal, current)
			if err != nil {
				return nil, err
			}
			dist = d
			stepSize = 0.1
			continue
		}

		current = next
		dist, err = ms.goalDist(goal, current)
		if err != nil {
			return nil, err
		}
	}

	if dist < ms.epsilon {
		return current, nil
	}
	return nil, errIKNoSolution
}

// goalDist is the squared-norm pose metric: translational distance plus a
// scaled orientation term, the small orientation numbers weighted up.
func (ms *ModelSolver) goalDist(goal spatialmath.Pose, inputs []referenceframe.Input) (float64, error) {
	eePos, err := ms.frame.Transform(inputs)
	if err != nil {
		return 0, err
	}
	delta := spatialmath.PoseDelta(goal, eePos)
	orient := spatialmath.QuatToR3AA(delta.Orientation().Quaternion()).Mul(orientationScaling)
	return delta.Point().Norm2() + orient.Norm2(), nil
}

// gradient estimates the metric gradient by finite differences, flipping the
// jump direction at the upper joint limit.
func (ms *ModelSolver) gradient(
	goal spatialmath.Pose,
	inputs []referenceframe.Input,
	dist float64,
	limits []referenceframe.Limit,
) ([]float64, error) {
	gradient := make([]float64, len(inputs))
	probe := append([]referenceframe.Input{}, inputs...)
	for i := range inputs {
		jump := gradientJump
		probe[i] = inputs[i] + jump
		if probe[i] > limits[i].Max {
			jump = -jump
			probe[i] = inputs[i] + jump
		}
		d, err := ms.goalDist(goal, probe)
		if err != nil {
			return nil, err
		}
		gradient[i] = (d - dist) / jump
		probe[i] = inputs[i]
	}
	return gradient, nil
}

// descendStep takes the largest backtracked step along -gradient that
// improves the metric, clamping to joint limits. Returns false if no step
// size down to machine noise improves it.
func (ms *ModelSolver) descendStep(
	goal spatialmath.Pose,
	inputs []referenceframe.Input,
	gradient []float64,
	limits []referenceframe.Limit,
	dist float64,
	stepSize *float64,
) ([]referenceframe.Input, bool) {
	for step := *stepSize; step > 1e-10; step /= 2 {
		next := make([]referenceframe.Input, len(inputs))
		for i := range inputs {
			v := inputs[i] - step*gradient[i]
			next[i] = clamp(v, limits[i].Min, limits[i].Max)
		}
		d, err := ms.goalDist(goal, next)
		if err != nil {
			continue
		}
		if d < dist {
			// Grow the step again so descent does not crawl.
			*stepSize = step * 2
			return next, true
		}
	}
	return nil, false
}

// randomInputs produces an in-bounds restart configuration, defaulting
// infinite limits to a wide finite range.
func randomInputs(random *rand.Rand, limits []referenceframe.Limit) []referenceframe.Input {
	inputs := make([]referenceframe.Input, len(limits))
	for i, limit := range limits {
		l, u := limit.Min, limit.Max
		if math.IsInf(l, -1) {
			l = -999
		}
		if math.IsInf(u, 1) {
			u = 999
		}
		inputs[i] = l + random.Float64()*(u-l)
	}
	return inputs
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
