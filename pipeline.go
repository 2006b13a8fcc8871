package binpick

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	armpb "go.viam.com/api/component/arm/v1"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"binpick/graspfilter"
)

// Step is one stage of a pick. Steps run in declaration order; a pick can be
// resumed from any step for debugging a single motion in isolation.
type Step int

const (
	StepOpenGripper Step = iota
	StepPerceive
	StepChooseGrasp
	StepMoveToPregrasp
	StepApproach
	StepCloseGripper
	StepLift
	StepRetreat
	StepMoveToDropZone
	StepRelease
	StepReset

	stepCount
)

var stepNames = [stepCount]string{
	"open_gripper",
	"perceive",
	"choose_grasp",
	"move_to_pregrasp",
	"approach",
	"close_gripper",
	"lift",
	"retreat",
	"move_to_drop_zone",
	"release",
	"reset",
}

func (s Step) String() string {
	if s < 0 || s >= stepCount {
		return "unknown"
	}
	return stepNames[s]
}

// StepByName resolves a step name as used in DoCommand and the CLI.
func StepByName(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, errors.Errorf("unknown step %q", name)
}

// Per-pick errors that abort the current order but let the session continue.
var (
	// ErrGraspSlipped means the gripper closed on nothing.
	ErrGraspSlipped = errors.New("gripper closed without holding the product")

	// ErrNoChosenGrasp means a motion step ran before a grasp was chosen,
	// which only happens when resuming past the choose step of a fresh pick.
	ErrNoChosenGrasp = errors.New("no grasp chosen for the current pick")
)

// Mover moves the arm's end effector in the world frame.
type Mover interface {
	// MoveFree plans an unconstrained path to dest around the obstacles.
	MoveFree(ctx context.Context, dest spatialmath.Pose, worldState *referenceframe.WorldState) error

	// MoveLinear keeps the end effector on a straight line to dest.
	MoveLinear(ctx context.Context, dest spatialmath.Pose, worldState *referenceframe.WorldState) error

	// MoveToReady returns the arm to its ready configuration.
	MoveToReady(ctx context.Context) error
}

// Hand opens and closes the gripper.
type Hand interface {
	Open(ctx context.Context) error
	Grab(ctx context.Context) (bool, error)
}

// PipelineConfig carries everything a Pipeline needs beyond its collaborators.
type PipelineConfig struct {
	Chain          graspfilter.Chain
	Solvers        []graspfilter.Solver
	Scene          *graspfilter.Scene
	FilterPregrasp bool
	IKTimeout      time.Duration

	ApproachMm float64
	LiftMm     float64
	RetreatMm  float64
	DropPose   spatialmath.Pose

	// WaitForStep, when set, gates every step. Returning an error aborts the
	// pick. Nil auto-advances.
	WaitForStep func(step Step) error
}

// Status is a snapshot of pipeline progress for DoCommand reporting.
type Status struct {
	Step           Step
	Order          WorkOrder
	ChosenGrasp    string
	PicksCompleted int
	PicksFailed    int

	// Joints is the chosen grasp configuration in degrees, nil before a
	// grasp has been chosen.
	Joints *armpb.JointPositions
}

// Pipeline sequences one pick: perceive the product, choose a feasible grasp,
// and run the approach/grasp/retreat motions through the Mover and Hand.
type Pipeline struct {
	logger    logging.Logger
	filter    *graspfilter.GraspFilter
	shelf     *Shelf
	perceiver Perceiver
	mover     Mover
	hand      Hand
	cfg       PipelineConfig

	mu             sync.Mutex
	step           Step
	order          WorkOrder
	productPose    spatialmath.Pose
	productDims    r3.Vector
	chosen         *graspfilter.Candidate
	worldState     *referenceframe.WorldState
	picksCompleted int
	picksFailed    int
}

// NewPipeline wires a pipeline together. A nil perceiver falls back to the
// shelf model itself.
func NewPipeline(
	logger logging.Logger,
	filter *graspfilter.GraspFilter,
	shelf *Shelf,
	perceiver Perceiver,
	mover Mover,
	hand Hand,
	cfg PipelineConfig,
) *Pipeline {
	if perceiver == nil {
		perceiver = NewShelfPerceiver(shelf)
	}
	return &Pipeline{
		logger:    logger,
		filter:    filter,
		shelf:     shelf,
		perceiver: perceiver,
		mover:     mover,
		hand:      hand,
		cfg:       cfg,
	}
}

// Status reports current progress.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		Step:           p.step,
		Order:          p.order,
		PicksCompleted: p.picksCompleted,
		PicksFailed:    p.picksFailed,
	}
	if p.chosen != nil {
		s.ChosenGrasp = p.chosen.Grasp.Name
		degrees := make([]float64, 0, len(p.chosen.GraspSolution))
		for _, input := range p.chosen.GraspSolution {
			degrees = append(degrees, rdkutils.RadToDeg(input))
		}
		s.Joints = &armpb.JointPositions{Values: degrees}
	}
	return s
}

// Reset clears per-pick state so the next pick starts from the first step.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.step = StepOpenGripper
	p.chosen = nil
	p.productPose = nil
	p.worldState = nil
}

// RunOrder picks every work order in sequence. A pick that fails for
// per-order reasons, no feasible grasp included, is logged and skipped; a
// configuration error aborts the whole run.
func (p *Pipeline) RunOrder(ctx context.Context, orders []WorkOrder) error {
	for i, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.logger.Infof("order %d/%d: %q from %s", i+1, len(orders), order.Item, order.Bin)
		err := p.PickProduct(ctx, order, StepOpenGripper)
		if err == nil {
			continue
		}
		if fatalPickError(err) {
			return errors.Wrapf(err, "order %d (%q from %s)", i+1, order.Item, order.Bin)
		}

		p.logger.Warnf("skipping %q from %s: %v", order.Item, order.Bin, err)
	}

	p.logger.Infof("order complete: %d picked, %d skipped", p.picksCompleted, p.picksFailed)
	return nil
}

// fatalPickError reports whether a pick failure indicates a broken setup
// rather than a product that merely cannot be picked right now.
func fatalPickError(err error) bool {
	return errors.Is(err, graspfilter.ErrNoSolvers) ||
		errors.Is(err, graspfilter.ErrNoChain) ||
		errors.Is(err, graspfilter.ErrNoScene) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// PickProduct runs the steps of one pick from startStep onward.
func (p *Pipeline) PickProduct(ctx context.Context, order WorkOrder, startStep Step) error {
	p.mu.Lock()
	p.order = order
	if startStep == StepOpenGripper {
		p.chosen = nil
		p.productPose = nil
		p.worldState = nil
	}
	p.mu.Unlock()

	for step := startStep; step < stepCount; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.cfg.WaitForStep != nil {
			if err := p.cfg.WaitForStep(step); err != nil {
				return errors.Wrapf(err, "gated at step %s", step)
			}
		}

		p.mu.Lock()
		p.step = step
		p.mu.Unlock()

		p.logger.Infof("step %d: %s", step, step)
		if err := p.runStep(ctx, step, order); err != nil {
			p.mu.Lock()
			p.picksFailed++
			p.mu.Unlock()
			return errors.Wrapf(err, "step %s", step)
		}
	}

	p.mu.Lock()
	p.picksCompleted++
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, step Step, order WorkOrder) error {
	switch step {
	case StepOpenGripper:
		return p.hand.Open(ctx)
	case StepPerceive:
		return p.perceive(ctx, order)
	case StepChooseGrasp:
		return p.chooseGrasp(ctx, order)
	case StepMoveToPregrasp:
		chosen, err := p.chosenCandidate()
		if err != nil {
			return err
		}
		return p.mover.MoveFree(ctx, chosen.Grasp.PregraspPose(), p.currentWorldState())
	case StepApproach:
		chosen, err := p.chosenCandidate()
		if err != nil {
			return err
		}
		return p.mover.MoveLinear(ctx, chosen.Grasp.Pose, nil)
	case StepCloseGripper:
		grabbed, err := p.hand.Grab(ctx)
		if err != nil {
			return err
		}
		if !grabbed {
			return ErrGraspSlipped
		}
		return nil
	case StepLift:
		chosen, err := p.chosenCandidate()
		if err != nil {
			return err
		}
		return p.mover.MoveLinear(ctx, liftedPose(chosen.Grasp.Pose, p.cfg.LiftMm), nil)
	case StepRetreat:
		chosen, err := p.chosenCandidate()
		if err != nil {
			return err
		}
		// Pull back out of the bin along the approach axis, still lifted.
		withdrawn := spatialmath.Compose(chosen.Grasp.Pose, spatialmath.NewPoseFromPoint(r3.Vector{Z: -p.cfg.RetreatMm}))
		return p.mover.MoveLinear(ctx, liftedPose(withdrawn, p.cfg.LiftMm), p.currentWorldState())
	case StepMoveToDropZone:
		return p.mover.MoveFree(ctx, p.cfg.DropPose, nil)
	case StepRelease:
		if err := p.hand.Open(ctx); err != nil {
			return err
		}
		if err := p.shelf.RemoveProduct(order.Bin, order.Item); err != nil {
			// Resumed picks may release a product the model never stocked.
			p.logger.Debugf("shelf model: %v", err)
		}
		return nil
	case StepReset:
		return p.mover.MoveToReady(ctx)
	default:
		return errors.Errorf("unknown step %d", step)
	}
}

func (p *Pipeline) perceive(ctx context.Context, order WorkOrder) error {
	pose, dims, err := p.perceiver.ProductPose(ctx, order)
	if err != nil {
		return errors.Wrap(err, "perceiving product")
	}

	point := pose.Point()
	p.logger.Infof("product %q at (%.0f, %.0f, %.0f)", order.Item, point.X, point.Y, point.Z)

	p.mu.Lock()
	p.productPose = pose
	p.productDims = dims
	p.mu.Unlock()
	return nil
}

// chooseGrasp is the feasibility funnel: generate candidates over the
// perceived product, run the kinematic filter, load the shelf into the scene,
// run the collision filter, take the first survivor.
func (p *Pipeline) chooseGrasp(ctx context.Context, order WorkOrder) error {
	p.mu.Lock()
	pose, dims := p.productPose, p.productDims
	p.mu.Unlock()
	if pose == nil {
		return errors.New("no perceived product pose")
	}

	grasps := GenerateGrasps(order.Item, pose, dims, p.cfg.ApproachMm)
	candidates := graspfilter.NewCandidates(grasps)

	reachable, err := p.filter.FilterGrasps(ctx, candidates, graspfilter.Options{
		Solvers:        p.cfg.Solvers,
		Chain:          p.cfg.Chain,
		FilterPregrasp: p.cfg.FilterPregrasp,
		Timeout:        p.cfg.IKTimeout,
	})
	if err != nil {
		return err
	}

	obstacles, err := p.shelf.SceneGeometries(order.Bin)
	if err != nil {
		return err
	}
	p.cfg.Scene.SetObstacles(obstacles...)

	collisionFree, err := p.filter.FilterCollisions(ctx, p.cfg.Scene, reachable)
	if err != nil {
		return err
	}

	chosen, err := graspfilter.ChooseBest(collisionFree)
	if err != nil {
		return errors.Wrapf(err, "%d generated, %d reachable, %d collision-free", len(candidates), len(reachable), len(collisionFree))
	}
	p.logger.Infof("chose grasp %q (%d generated, %d reachable, %d collision-free)",
		chosen.Grasp.Name, len(candidates), len(reachable), len(collisionFree))

	worldState, err := obstacleWorldState(obstacles)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.chosen = chosen
	p.worldState = worldState
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) chosenCandidate() (*graspfilter.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chosen == nil {
		return nil, ErrNoChosenGrasp
	}
	return p.chosen, nil
}

func (p *Pipeline) currentWorldState() *referenceframe.WorldState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.worldState
}

// liftedPose raises a pose straight up in the world frame.
func liftedPose(pose spatialmath.Pose, liftMm float64) spatialmath.Pose {
	return spatialmath.Compose(spatialmath.NewPoseFromPoint(r3.Vector{Z: liftMm}), pose)
}

// obstacleWorldState wraps scene geometries for the motion service.
func obstacleWorldState(obstacles []spatialmath.Geometry) (*referenceframe.WorldState, error) {
	gif := referenceframe.NewGeometriesInFrame(referenceframe.World, obstacles)
	return referenceframe.NewWorldState([]*referenceframe.GeometriesInFrame{gif}, nil)
}
