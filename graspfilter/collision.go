package graspfilter

import (
	"context"
	"time"

	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// Collision names a pair of geometries found intersecting, robot link first.
type Collision struct {
	Link     string
	Obstacle string
}

// FilterCollisions removes kinematically-valid candidates whose implied robot
// configurations are out of joint bounds, in self-collision, or colliding
// with the environment. Both the grasp configuration and, when present, the
// pregrasp configuration must be clean.
//
// This stage is deliberately single-threaded: each check is cheap next to an
// IK search, and a sequential scan keeps the scene read lock scoped to one
// acquisition for the whole run. Input order is preserved in the output.
func (gf *GraspFilter) FilterCollisions(ctx context.Context, scene *Scene, candidates []*Candidate) ([]*Candidate, error) {
	if scene == nil || scene.robotGeometry == nil {
		return nil, ErrNoScene
	}

	scene.mu.RLock()
	defer scene.mu.RUnlock()

	start := time.Now()
	filtered := make([]*Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		collisions, ok := gf.checkConfiguration(scene, candidate.GraspSolution)
		if ok && candidate.PregraspSolution != nil {
			var pregraspCollisions []Collision
			pregraspCollisions, ok = gf.checkConfiguration(scene, candidate.PregraspSolution)
			collisions = append(collisions, pregraspCollisions...)
		}

		if !ok {
			gf.logger.Debugf("grasp %q rejected in collision filter: %v", candidate.Grasp.Name, collisions)
			gf.viz.ContactPoints(candidate.Grasp.Name, collisions)
			continue
		}

		gf.viz.RobotState(candidate.GraspSolution)
		filtered = append(filtered, candidate)
	}

	gf.logger.Debugf("collision filter kept %d of %d grasps in %v", len(filtered), len(candidates), time.Since(start))
	return filtered, nil
}

// checkConfiguration validates one robot configuration against joint bounds,
// self-collision, and the environment. A fresh set of link geometries is
// produced per call so candidates cannot contaminate each other.
func (gf *GraspFilter) checkConfiguration(scene *Scene, inputs []referenceframe.Input) ([]Collision, bool) {
	if len(scene.limits) > 0 {
		if len(inputs) != len(scene.limits) {
			return nil, false
		}
		for i, input := range inputs {
			if input < scene.limits[i].Min || input > scene.limits[i].Max {
				return nil, false
			}
		}
	}

	links, err := scene.robotGeometry(inputs)
	if err != nil {
		gf.logger.Debugf("robot geometry unavailable for configuration: %v", err)
		return nil, false
	}

	var collisions []Collision

	// Self-collision between non-adjacent links. Adjacent links share a
	// joint and touch by construction.
	for i := 0; i < len(links); i++ {
		for j := i + 2; j < len(links); j++ {
			if collides(links[i], links[j], scene.bufferMM) {
				collisions = append(collisions, Collision{Link: links[i].Label(), Obstacle: links[j].Label()})
			}
		}
	}

	for _, link := range links {
		for _, obstacle := range scene.obstacles {
			if collides(link, obstacle, scene.bufferMM) {
				collisions = append(collisions, Collision{Link: link.Label(), Obstacle: obstacle.Label()})
			}
		}
	}

	return collisions, len(collisions) == 0
}

func collides(a, b spatialmath.Geometry, bufferMM float64) bool {
	hit, err := a.CollidesWith(b, bufferMM)
	if err != nil {
		// Unsupported geometry pairings drop the candidate; rejecting a
		// grasp we cannot validate is the safe direction.
		return true
	}
	return hit
}
