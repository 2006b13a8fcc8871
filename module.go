package binpick

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/motionplan"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/services/motion"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"binpick/graspfilter"
)

// PickerModel is the generic service running the pick pipeline on a machine.
var PickerModel = resource.NewModel("devrel", "binpick", "picker")

func init() {
	resource.RegisterService(generic.API, PickerModel,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newPicker,
		},
	)
}

type picker struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config

	pipeline *Pipeline
	mover    Mover
	orders   []WorkOrder

	stepGate chan struct{}

	mu      sync.Mutex
	running bool

	cancelCtx  context.Context
	cancelFunc func()
}

func newPicker(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	return NewPicker(ctx, deps, rawConf.ResourceName(), conf, logger)
}

// NewPicker wires a picker service from its arm, gripper, and motion
// dependencies.
func NewPicker(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	p := &picker{
		name:       name,
		logger:     logger,
		cfg:        conf,
		stepGate:   make(chan struct{}),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}

	var waitForStep func(Step) error
	if conf.ManualStep {
		waitForStep = p.waitForStep
	}

	pipeline, mover, orders, err := BuildPipeline(ctx, deps, conf, waitForStep, logger)
	if err != nil {
		cancelFunc()
		return nil, err
	}
	p.pipeline = pipeline
	p.mover = mover
	p.orders = orders

	logger.Infof("picker ready: %d orders loaded, %d IK workers", len(orders), conf.IKWorkers)
	return p, nil
}

// BuildPipeline assembles the pick pipeline from a resource provider, which
// may be module dependencies or a robot client connection.
func BuildPipeline(
	ctx context.Context,
	provider resource.Provider,
	conf *Config,
	waitForStep func(Step) error,
	logger logging.Logger,
) (*Pipeline, Mover, []WorkOrder, error) {
	armDep, err := arm.FromProvider(provider, conf.Arm)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "arm %q", conf.Arm)
	}
	gripperDep, err := gripper.FromProvider(provider, conf.Gripper)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "gripper %q", conf.Gripper)
	}
	motionSvc, err := motion.FromProvider(provider, conf.Motion)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "motion service %q", conf.Motion)
	}

	model, err := armDep.Kinematics(ctx)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "arm kinematics")
	}

	// One solver instance per worker; instances are not shared across
	// goroutines, so distinct restart seeds keep their searches decorrelated.
	solvers := make([]graspfilter.Solver, 0, conf.IKWorkers)
	for i := 0; i < conf.IKWorkers; i++ {
		solvers = append(solvers, graspfilter.NewModelSolver(logger, model, nil, int64(i+1)))
	}

	scene := graspfilter.NewScene(graspfilter.ModelGeometry(model), model.DoF())
	if conf.CollisionBufferMm > 0 {
		scene.SetCollisionBuffer(conf.CollisionBufferMm)
	}

	shelf := NewShelf(conf.ShelfPose())
	orders, err := LoadOrders(conf.OrderFile, shelf)
	if err != nil {
		return nil, nil, nil, err
	}

	mover := &armMover{arm: armDep, motion: motionSvc, component: conf.Arm}
	hand := &gripperHand{gripper: gripperDep}
	filter := graspfilter.NewGraspFilter(logger, graspfilter.NewLogVisualizer(logger))

	pipeline := NewPipeline(logger, filter, shelf, nil, mover, hand, PipelineConfig{
		Chain:          graspfilter.Chain{Group: conf.Arm, EEParentLink: conf.Gripper},
		Solvers:        solvers,
		Scene:          scene,
		FilterPregrasp: !conf.SkipPregraspCheck,
		IKTimeout:      conf.IKTimeout(),
		ApproachMm:     conf.ApproachMm,
		LiftMm:         conf.LiftMm,
		RetreatMm:      conf.RetreatMm,
		DropPose:       conf.DropPose(),
		WaitForStep:    waitForStep,
	})
	return pipeline, mover, orders, nil
}

func (p *picker) Name() resource.Name {
	return p.name
}

func (p *picker) waitForStep(step Step) error {
	p.logger.Infof("paused before step %s; send {\"command\": \"continue\"}", step)
	select {
	case <-p.stepGate:
		return nil
	case <-p.cancelCtx.Done():
		return p.cancelCtx.Err()
	}
}

func (p *picker) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "run_order":
		return p.startOrderRun()

	case "pick":
		binName, _ := cmd["bin"].(string)
		item, _ := cmd["item"].(string)
		if binName == "" || item == "" {
			return nil, errors.New("pick requires 'bin' and 'item' parameters")
		}
		startStep := StepOpenGripper
		if stepName, ok := cmd["step"].(string); ok {
			var err error
			startStep, err = StepByName(stepName)
			if err != nil {
				return nil, err
			}
		}
		if err := p.runExclusive(func() error {
			return p.pipeline.PickProduct(ctx, WorkOrder{Bin: binName, Item: item}, startStep)
		}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"picked": item}, nil

	case "continue":
		select {
		case p.stepGate <- struct{}{}:
			return map[string]interface{}{"continued": true}, nil
		default:
			return nil, errors.New("pipeline is not waiting at a step gate")
		}

	case "status":
		return p.statusMap(), nil

	case "reset":
		p.pipeline.Reset()
		if err := p.mover.MoveToReady(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"reset": true}, nil

	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

// startOrderRun kicks off the full work order in the background so the
// DoCommand returns immediately; progress is visible through "status".
func (p *picker) startOrderRun() (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, errors.New("an order run is already in progress")
	}
	p.running = true

	goutils.PanicCapturingGo(func() {
		defer func() {
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
		}()
		if err := p.pipeline.RunOrder(p.cancelCtx, p.orders); err != nil {
			p.logger.Errorf("order run aborted: %v", err)
		}
	})
	return map[string]interface{}{"started": true, "orders": len(p.orders)}, nil
}

// runExclusive rejects overlapping pick requests instead of queueing them.
func (p *picker) runExclusive(fn func() error) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("an order run is already in progress")
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()
	return fn()
}

func (p *picker) statusMap() map[string]interface{} {
	status := p.pipeline.Status()

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	result := map[string]interface{}{
		"running":         running,
		"step":            status.Step.String(),
		"bin":             status.Order.Bin,
		"item":            status.Order.Item,
		"picks_completed": status.PicksCompleted,
		"picks_failed":    status.PicksFailed,
	}
	if status.ChosenGrasp != "" {
		result["chosen_grasp"] = status.ChosenGrasp
	}
	if status.Joints != nil {
		degrees := make([]interface{}, 0, len(status.Joints.Values))
		for _, v := range status.Joints.Values {
			degrees = append(degrees, v)
		}
		result["grasp_joints_degs"] = degrees
	}
	return result
}

func (p *picker) Close(ctx context.Context) error {
	p.logger.Info("closing picker")
	p.cancelFunc()
	return nil
}

// armMover adapts the motion service and arm into the pipeline's Mover.
type armMover struct {
	arm       arm.Arm
	motion    motion.Service
	component string
}

func (m *armMover) MoveFree(ctx context.Context, dest spatialmath.Pose, worldState *referenceframe.WorldState) error {
	_, err := m.motion.Move(ctx, motion.MoveReq{
		ComponentName: m.component,
		Destination:   referenceframe.NewPoseInFrame(referenceframe.World, dest),
		WorldState:    worldState,
	})
	return err
}

func (m *armMover) MoveLinear(ctx context.Context, dest spatialmath.Pose, worldState *referenceframe.WorldState) error {
	constraints := motionplan.NewConstraints(
		[]motionplan.LinearConstraint{{
			LineToleranceMm:          1.0,
			OrientationToleranceDegs: 2.0,
		}},
		nil, nil, nil,
	)

	_, err := m.motion.Move(ctx, motion.MoveReq{
		ComponentName: m.component,
		Destination:   referenceframe.NewPoseInFrame(referenceframe.World, dest),
		WorldState:    worldState,
		Constraints:   constraints,
	})
	return err
}

func (m *armMover) MoveToReady(ctx context.Context) error {
	model, err := m.arm.Kinematics(ctx)
	if err != nil {
		return err
	}
	ready := make([]referenceframe.Input, len(model.DoF()))
	return m.arm.MoveToJointPositions(ctx, ready, nil)
}

// gripperHand adapts a gripper into the pipeline's Hand.
type gripperHand struct {
	gripper gripper.Gripper
}

func (h *gripperHand) Open(ctx context.Context) error {
	return h.gripper.Open(ctx, nil)
}

func (h *gripperHand) Grab(ctx context.Context) (bool, error) {
	return h.gripper.Grab(ctx, nil)
}
