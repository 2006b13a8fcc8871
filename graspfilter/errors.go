package graspfilter

import "github.com/pkg/errors"

var (
	// ErrNoSolvers means a filter run was requested without any kinematics
	// solver instances. Configuration error, fatal to the call.
	ErrNoSolvers = errors.New("no kinematics solver instances configured")

	// ErrNoChain means the run was not bound to a kinematic chain.
	ErrNoChain = errors.New("filter run not bound to a kinematic chain")

	// ErrNoScene means collision filtering was requested without a planning
	// scene snapshot. Configuration error, fatal to the call.
	ErrNoScene = errors.New("planning scene unavailable")

	// ErrNoCandidates means zero candidates survived filtering, or the
	// selector was asked to choose from an empty sequence. Recoverable: the
	// caller may retry with a different perception result or abort the pick.
	ErrNoCandidates = errors.New("no grasp candidates survived filtering")
)
