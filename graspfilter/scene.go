package graspfilter

import (
	"sync"

	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// defaultCollisionBufferMM is the clearance margin for collision checks.
const defaultCollisionBufferMM = 1e-8

// RobotGeometry produces the robot's link geometries for a configuration.
// Implementations must return freshly posed geometries on every call so that
// no state bleeds between candidate checks.
type RobotGeometry func(inputs []referenceframe.Input) ([]spatialmath.Geometry, error)

// ModelGeometry adapts a kinematic model into a RobotGeometry provider.
func ModelGeometry(model referenceframe.Model) RobotGeometry {
	return func(inputs []referenceframe.Input) ([]spatialmath.Geometry, error) {
		gif, err := model.Geometries(inputs)
		if err != nil {
			return nil, err
		}
		return gif.Geometries(), nil
	}
}

// Scene is the snapshot of world state collision checks run against: obstacle
// geometries (shelf walls, other products), the robot's own link geometries,
// and the joint limits of the chain. Writers mutate under the write lock; the
// collision filter takes the read lock once per scan, not per candidate.
type Scene struct {
	mu            sync.RWMutex
	obstacles     []spatialmath.Geometry
	robotGeometry RobotGeometry
	limits        []referenceframe.Limit
	bufferMM      float64
}

// NewScene builds a scene around a robot geometry provider and the joint
// limits of the chain being validated.
func NewScene(robotGeometry RobotGeometry, limits []referenceframe.Limit) *Scene {
	return &Scene{
		robotGeometry: robotGeometry,
		limits:        limits,
		bufferMM:      defaultCollisionBufferMM,
	}
}

// SetObstacles replaces the environment geometry.
func (s *Scene) SetObstacles(obstacles ...spatialmath.Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obstacles = append([]spatialmath.Geometry{}, obstacles...)
}

// AddObstacles appends environment geometry.
func (s *Scene) AddObstacles(obstacles ...spatialmath.Geometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obstacles = append(s.obstacles, obstacles...)
}

// SetCollisionBuffer widens the clearance margin, in mm.
func (s *Scene) SetCollisionBuffer(bufferMM float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bufferMM > 0 {
		s.bufferMM = bufferMM
	}
}

// ObstacleCount reports how many environment geometries are loaded.
func (s *Scene) ObstacleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.obstacles)
}
