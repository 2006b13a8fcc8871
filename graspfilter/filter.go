package graspfilter

import (
	"context"
	"sync"
	"time"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// Default per-candidate IK attempt budget. There is deliberately no overall
// wall-clock budget: a slow worker delays the result but never aborts siblings.
const defaultIKTimeout = 50 * time.Millisecond

// Options configure one kinematic filter run. The worker count is implicit:
// one OS-scheduled worker per solver instance, each owning its instance
// exclusively for the duration of the run.
type Options struct {
	Solvers []Solver
	Chain   Chain

	// FilterPregrasp requires the pregrasp pose to be solvable too; a
	// candidate whose grasp solves but whose pregrasp does not is dropped
	// entirely, never kept as a grasp-only success.
	FilterPregrasp bool

	// Timeout bounds each individual IK attempt. Zero means defaultIKTimeout.
	Timeout time.Duration
}

// GraspFilter runs the kinematic and collision feasibility stages.
type GraspFilter struct {
	logger logging.Logger
	viz    Visualizer
}

// NewGraspFilter returns a filter logging through logger. A nil viz disables
// the diagnostic side channel.
func NewGraspFilter(logger logging.Logger, viz Visualizer) *GraspFilter {
	if viz == nil {
		viz = noopVisualizer{}
	}
	return &GraspFilter{logger: logger, viz: viz}
}

// ikTask is the immutable work descriptor handed to one worker by value: a
// contiguous index range over a shared read-only candidate view, plus the
// solver instance the worker owns. The candidate slice must outlive all
// workers; the caller blocks on join-all, so it does.
type ikTask struct {
	candidates     []*Candidate
	start, end     int
	solver         Solver
	filterPregrasp bool
	timeout        time.Duration
	workerID       int
}

// FilterGrasps runs IK over every candidate and returns the sub-collection
// with valid joint solutions attached. Survivor order is whichever worker
// finishes first and is not guaranteed to match input order; no candidate is
// duplicated or dropped by the partitioning. An empty input returns an empty
// output and no error; so does an input where nothing solves — "no grasps
// found" is the caller's call to make.
func (gf *GraspFilter) FilterGrasps(ctx context.Context, candidates []*Candidate, opts Options) ([]*Candidate, error) {
	if len(opts.Solvers) == 0 {
		return nil, ErrNoSolvers
	}
	if opts.Chain.Group == "" || opts.Chain.EEParentLink == "" {
		return nil, ErrNoChain
	}
	if len(candidates) == 0 {
		return []*Candidate{}, nil
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultIKTimeout
	}

	workers := len(opts.Solvers)
	if workers > len(candidates) {
		workers = len(candidates)
	}

	start := time.Now()
	gf.logger.Debugf("filtering %d grasps for chain %q/%q across %d workers",
		len(candidates), opts.Chain.Group, opts.Chain.EEParentLink, workers)

	// Static proportional partitioning: equal ranges by integer division,
	// remainder on the last worker. No work stealing, no rebalancing.
	perWorker := len(candidates) / workers
	survivorsByWorker := make([][]*Candidate, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		task := ikTask{
			candidates:     candidates,
			start:          i * perWorker,
			end:            (i + 1) * perWorker,
			solver:         opts.Solvers[i],
			filterPregrasp: opts.FilterPregrasp,
			timeout:        timeout,
			workerID:       i,
		}
		if i == workers-1 {
			task.end = len(candidates)
		}

		wg.Add(1)
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			// Workers return local survivor lists; the join below
			// concatenates them, so the hot loop takes no lock at all.
			survivorsByWorker[task.workerID] = gf.filterGraspRange(ctx, task)
		})
	}
	wg.Wait()

	filtered := make([]*Candidate, 0, len(candidates))
	for _, survivors := range survivorsByWorker {
		filtered = append(filtered, survivors...)
	}

	gf.logger.Debugf("kinematic filter kept %d of %d grasps in %v", len(filtered), len(candidates), time.Since(start))
	return filtered, nil
}

// filterGraspRange checks one worker's index range. Per-candidate IK failures
// are absorbed here and never escalate or abort sibling workers.
func (gf *GraspFilter) filterGraspRange(ctx context.Context, task ikTask) []*Candidate {
	var survivors []*Candidate
	rootOffset := task.solver.RootOffset()
	seed := make([]referenceframe.Input, len(task.solver.DoF()))

	for i := task.start; i < task.end; i++ {
		if ctx.Err() != nil {
			return survivors
		}
		candidate := task.candidates[i]

		graspSolution, err := gf.solveBounded(ctx, task.solver, rootOffset, candidate.Grasp.Pose, seed, task.timeout)
		if err != nil {
			gf.logger.Debugf("worker %d: grasp %q unreachable: %v", task.workerID, candidate.Grasp.Name, err)
			continue
		}

		if task.filterPregrasp {
			// Seed the pregrasp solve with the grasp solution: the staging
			// configuration should be kinematically close to the grasp one.
			solution, err := gf.solveBounded(ctx, task.solver, rootOffset, candidate.Grasp.PregraspPose(), graspSolution, task.timeout)
			if err != nil {
				gf.logger.Debugf("worker %d: grasp %q reachable but pregrasp is not: %v", task.workerID, candidate.Grasp.Name, err)
				continue
			}
			candidate.PregraspSolution = solution
		}

		candidate.GraspSolution = graspSolution
		survivors = append(survivors, candidate)
	}
	return survivors
}

// solveBounded transforms a planning-frame goal into the solver's root frame
// and runs one bounded IK attempt.
func (gf *GraspFilter) solveBounded(
	ctx context.Context,
	solver Solver,
	rootOffset, goal spatialmath.Pose,
	seed []referenceframe.Input,
	timeout time.Duration,
) ([]referenceframe.Input, error) {
	solverGoal := spatialmath.PoseBetween(rootOffset, goal)
	solveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return solver.Solve(solveCtx, solverGoal, seed)
}
