// Package graspfilter screens geometrically generated grasp candidates for
// kinematic reachability and collision-free placement, then selects the one
// grasp the manipulation pipeline should act on.
//
// The pipeline is strictly downstream: candidate pool -> kinematic filter
// (parallel, one worker per solver instance) -> collision filter (sequential)
// -> selector. Candidates are annotated in place and discarded as a batch once
// the chosen one has been consumed.
package graspfilter

import (
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// Grasp is one proposed end effector placement produced by an upstream grasp
// generator. Poses are in the planning (world) frame and describe where the
// end effector parent link should be when the gripper closes.
type Grasp struct {
	Name string
	Pose spatialmath.Pose

	// ApproachMm is how far behind the grasp pose, along the gripper's -Z
	// axis, the pregrasp staging pose sits.
	ApproachMm float64

	// Finger joint targets commanded before approach and at close.
	PregraspPosture []float64
	GraspPosture    []float64
}

// PregraspPose derives the staging pose by backing the grasp pose off along
// the approach axis in the gripper's own frame.
func (g *Grasp) PregraspPose() spatialmath.Pose {
	return spatialmath.Compose(g.Pose, spatialmath.NewPoseFromPoint(r3.Vector{Z: -g.ApproachMm}))
}

// Chain identifies the single kinematic chain a filter run is scoped to: the
// joint group being solved for and the link the end effector geometry is
// attached to. Candidates from different chains may not share a run.
type Chain struct {
	Group        string
	EEParentLink string
}

// Candidate is a Grasp plus the joint solutions attached to it as it moves
// through the filter stages. Solutions are nil until the kinematic filter
// annotates them; the selector reads but never mutates.
type Candidate struct {
	Grasp *Grasp

	GraspSolution    []referenceframe.Input
	PregraspSolution []referenceframe.Input
}

// NewCandidates wraps a batch of generated grasps for filtering.
func NewCandidates(grasps []*Grasp) []*Candidate {
	candidates := make([]*Candidate, 0, len(grasps))
	for _, g := range grasps {
		candidates = append(candidates, &Candidate{Grasp: g})
	}
	return candidates
}
