package binpick

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"

	"binpick/graspfilter"
)

// zeroSolver accepts every goal and answers with the all-zero configuration,
// which is always inside the fake scene's joint limits.
type zeroSolver struct {
	rejectAll bool
}

func (zs *zeroSolver) Solve(ctx context.Context, goal spatialmath.Pose, seed []referenceframe.Input) ([]referenceframe.Input, error) {
	if zs.rejectAll {
		return nil, errors.New("no solution")
	}
	return make([]referenceframe.Input, 6), nil
}

func (zs *zeroSolver) RootOffset() spatialmath.Pose { return spatialmath.NewZeroPose() }

func (zs *zeroSolver) DoF() []referenceframe.Limit {
	limits := make([]referenceframe.Limit, 6)
	for i := range limits {
		limits[i] = referenceframe.Limit{Min: -10, Max: 10}
	}
	return limits
}

// awayGeometry poses the robot far below the shelf so nothing ever collides.
func awayGeometry(inputs []referenceframe.Input) ([]spatialmath.Geometry, error) {
	box, err := spatialmath.NewBox(
		spatialmath.NewPoseFromPoint(r3.Vector{Z: -10000}),
		r3.Vector{X: 10, Y: 10, Z: 10},
		"arm_link",
	)
	if err != nil {
		return nil, err
	}
	return []spatialmath.Geometry{box}, nil
}

type scriptMover struct {
	calls []string
}

func (m *scriptMover) MoveFree(ctx context.Context, dest spatialmath.Pose, ws *referenceframe.WorldState) error {
	m.calls = append(m.calls, "free")
	return nil
}

func (m *scriptMover) MoveLinear(ctx context.Context, dest spatialmath.Pose, ws *referenceframe.WorldState) error {
	m.calls = append(m.calls, "linear")
	return nil
}

func (m *scriptMover) MoveToReady(ctx context.Context) error {
	m.calls = append(m.calls, "ready")
	return nil
}

type scriptHand struct {
	opens    int
	grabs    int
	grabHold bool
}

func (h *scriptHand) Open(ctx context.Context) error {
	h.opens++
	return nil
}

func (h *scriptHand) Grab(ctx context.Context) (bool, error) {
	h.grabs++
	return h.grabHold, nil
}

func testPipeline(t *testing.T, solver graspfilter.Solver, waitForStep func(Step) error) (*Pipeline, *scriptMover, *scriptHand, *Shelf) {
	t.Helper()

	shelf := NewShelf(nil)
	if err := shelf.StockBin("bin_A", []string{"soap"}); err != nil {
		t.Fatal(err)
	}

	var solvers []graspfilter.Solver
	if solver != nil {
		solvers = []graspfilter.Solver{solver}
	}

	logger := logging.NewTestLogger(t)
	mover := &scriptMover{}
	hand := &scriptHand{grabHold: true}
	pipeline := NewPipeline(
		logger,
		graspfilter.NewGraspFilter(logger, nil),
		shelf,
		nil,
		mover,
		hand,
		PipelineConfig{
			Chain:       graspfilter.Chain{Group: "arm", EEParentLink: "gripper"},
			Solvers:     solvers,
			Scene:       graspfilter.NewScene(awayGeometry, (&zeroSolver{}).DoF()),
			ApproachMm:  100,
			LiftMm:      40,
			RetreatMm:   200,
			DropPose:    spatialmath.NewPoseFromPoint(r3.Vector{X: 600, Y: -400, Z: 200}),
			WaitForStep: waitForStep,
		},
	)
	return pipeline, mover, hand, shelf
}

func TestPickProductRunsStepsInOrder(t *testing.T) {
	var visited []Step
	record := func(step Step) error {
		visited = append(visited, step)
		return nil
	}
	pipeline, mover, hand, shelf := testPipeline(t, &zeroSolver{}, record)

	order := WorkOrder{Bin: "bin_A", Item: "soap"}
	if err := pipeline.PickProduct(context.Background(), order, StepOpenGripper); err != nil {
		t.Fatal(err)
	}

	wantSteps := []Step{
		StepOpenGripper, StepPerceive, StepChooseGrasp, StepMoveToPregrasp,
		StepApproach, StepCloseGripper, StepLift, StepRetreat,
		StepMoveToDropZone, StepRelease, StepReset,
	}
	if len(visited) != len(wantSteps) {
		t.Fatalf("visited %d steps, want %d: %v", len(visited), len(wantSteps), visited)
	}
	for i := range wantSteps {
		if visited[i] != wantSteps[i] {
			t.Fatalf("step %d was %s, want %s", i, visited[i], wantSteps[i])
		}
	}

	// Pregrasp free move, three linear moves, free move to the drop zone,
	// then back to ready.
	wantMoves := []string{"free", "linear", "linear", "linear", "free", "ready"}
	if len(mover.calls) != len(wantMoves) {
		t.Fatalf("mover calls %v, want %v", mover.calls, wantMoves)
	}
	for i := range wantMoves {
		if mover.calls[i] != wantMoves[i] {
			t.Fatalf("mover calls %v, want %v", mover.calls, wantMoves)
		}
	}

	if hand.opens != 2 || hand.grabs != 1 {
		t.Fatalf("hand saw %d opens and %d grabs, want 2 and 1", hand.opens, hand.grabs)
	}

	// A completed pick removes the product from the shelf model.
	if _, _, err := shelf.FindProduct("bin_A", "soap"); err == nil {
		t.Fatal("picked product still stocked in the shelf model")
	}

	status := pipeline.Status()
	if status.PicksCompleted != 1 || status.PicksFailed != 0 {
		t.Fatalf("status %d completed / %d failed, want 1 / 0", status.PicksCompleted, status.PicksFailed)
	}
	if status.ChosenGrasp == "" || status.Joints == nil {
		t.Fatal("status should carry the chosen grasp and its joint snapshot")
	}
}

func TestPickProductNoFeasibleGrasp(t *testing.T) {
	pipeline, mover, _, _ := testPipeline(t, &zeroSolver{rejectAll: true}, nil)

	err := pipeline.PickProduct(context.Background(), WorkOrder{Bin: "bin_A", Item: "soap"}, StepOpenGripper)
	if !errors.Is(err, graspfilter.ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	for _, call := range mover.calls {
		if call != "ready" {
			t.Fatalf("arm should not move without a chosen grasp, saw %v", mover.calls)
		}
	}
	if pipeline.Status().PicksFailed != 1 {
		t.Fatal("failed pick not counted")
	}
}

func TestPickProductGraspSlipped(t *testing.T) {
	pipeline, _, hand, _ := testPipeline(t, &zeroSolver{}, nil)
	hand.grabHold = false

	err := pipeline.PickProduct(context.Background(), WorkOrder{Bin: "bin_A", Item: "soap"}, StepOpenGripper)
	if !errors.Is(err, ErrGraspSlipped) {
		t.Fatalf("expected ErrGraspSlipped, got %v", err)
	}
}

func TestPickProductResumeWithoutChosenGrasp(t *testing.T) {
	pipeline, _, _, _ := testPipeline(t, &zeroSolver{}, nil)

	err := pipeline.PickProduct(context.Background(), WorkOrder{Bin: "bin_A", Item: "soap"}, StepMoveToPregrasp)
	if !errors.Is(err, ErrNoChosenGrasp) {
		t.Fatalf("expected ErrNoChosenGrasp, got %v", err)
	}
}

func TestPickProductManualGateDecline(t *testing.T) {
	gate := func(step Step) error {
		if step == StepApproach {
			return errors.New("operator declined")
		}
		return nil
	}
	pipeline, mover, _, _ := testPipeline(t, &zeroSolver{}, gate)

	err := pipeline.PickProduct(context.Background(), WorkOrder{Bin: "bin_A", Item: "soap"}, StepOpenGripper)
	if err == nil {
		t.Fatal("declined gate should abort the pick")
	}
	// Only the pregrasp free move happened before the gate fired.
	for _, call := range mover.calls {
		if call == "linear" {
			t.Fatalf("approach ran despite the declined gate: %v", mover.calls)
		}
	}
}

func TestRunOrderContinuesAfterUnpickable(t *testing.T) {
	pipeline, _, _, _ := testPipeline(t, &zeroSolver{}, nil)

	orders := []WorkOrder{
		{Bin: "bin_A", Item: "ghost"}, // never stocked; perception fails
		{Bin: "bin_A", Item: "soap"},
	}
	if err := pipeline.RunOrder(context.Background(), orders); err != nil {
		t.Fatalf("per-order failures must not abort the run: %v", err)
	}

	status := pipeline.Status()
	if status.PicksCompleted != 1 || status.PicksFailed != 1 {
		t.Fatalf("status %d completed / %d failed, want 1 / 1", status.PicksCompleted, status.PicksFailed)
	}
}

func TestRunOrderAbortsOnConfigurationError(t *testing.T) {
	pipeline, _, _, _ := testPipeline(t, nil, nil) // no solvers at all

	err := pipeline.RunOrder(context.Background(), []WorkOrder{{Bin: "bin_A", Item: "soap"}})
	if !errors.Is(err, graspfilter.ErrNoSolvers) {
		t.Fatalf("expected ErrNoSolvers to abort the run, got %v", err)
	}
}
