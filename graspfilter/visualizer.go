package graspfilter

import (
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
)

// Visualizer is the fire-and-forget diagnostic side channel. Implementations
// must never block and must swallow their own errors; nothing here may affect
// a filter result. A motion-tools style drawing client slots in behind this.
type Visualizer interface {
	// Poses draws candidate grasp poses with labels.
	Poses(poses []spatialmath.Pose, labels []string)

	// ContactPoints reports the colliding geometry pairs that rejected a grasp.
	ContactPoints(grasp string, collisions []Collision)

	// RobotState shows the configuration of a surviving candidate.
	RobotState(inputs []referenceframe.Input)
}

type noopVisualizer struct{}

func (noopVisualizer) Poses([]spatialmath.Pose, []string) {}
func (noopVisualizer) ContactPoints(string, []Collision)  {}
func (noopVisualizer) RobotState([]referenceframe.Input)  {}

// NewLogVisualizer returns a Visualizer that debug-logs instead of drawing,
// for running without a visualization collaborator attached.
func NewLogVisualizer(logger logging.Logger) Visualizer {
	return &logVisualizer{logger: logger}
}

type logVisualizer struct {
	logger logging.Logger
}

func (lv *logVisualizer) Poses(poses []spatialmath.Pose, labels []string) {
	for i, pose := range poses {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		lv.logger.Debugf("pose %s: %v", label, spatialmath.PoseToProtobuf(pose))
	}
}

func (lv *logVisualizer) ContactPoints(grasp string, collisions []Collision) {
	for _, c := range collisions {
		lv.logger.Debugf("grasp %s contact: %s vs %s", grasp, c.Link, c.Obstacle)
	}
}

func (lv *logVisualizer) RobotState(inputs []referenceframe.Input) {
	lv.logger.Debugf("valid configuration: %v", inputs)
}
