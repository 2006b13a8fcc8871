package binpick

import (
	"fmt"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"

	"binpick/graspfilter"
)

// Finger postures as gripper open percentages.
const (
	postureOpen   = 100.0
	postureClosed = 20.0
)

// GenerateGrasps proposes candidate grasps over a product box in the world
// frame. Overhand grasps descend onto the top face; front grasps reach into
// the bin along +X toward the product's near face. Two wrist rolls per
// approach so a narrow gripper can straddle either horizontal axis.
func GenerateGrasps(productName string, pose spatialmath.Pose, dims r3.Vector, approachMm float64) []*graspfilter.Grasp {
	center := pose.Point()
	var grasps []*graspfilter.Grasp

	add := func(kind string, i int, point r3.Vector, orientation *spatialmath.OrientationVectorDegrees) {
		grasps = append(grasps, &graspfilter.Grasp{
			Name:            fmt.Sprintf("%s_%s_%d", productName, kind, i),
			Pose:            spatialmath.NewPose(point, orientation),
			ApproachMm:      approachMm,
			PregraspPosture: []float64{postureOpen},
			GraspPosture:    []float64{postureClosed},
		})
	}

	// Overhand: gripper Z pointing down at the top face.
	top := r3.Vector{X: center.X, Y: center.Y, Z: center.Z + dims.Z/2}
	for i, theta := range []float64{0, 90} {
		add("overhand", i, top, &spatialmath.OrientationVectorDegrees{OZ: -1, Theta: theta})
	}

	// Front: gripper Z pointing into the shelf at the near face.
	front := r3.Vector{X: center.X - dims.X/2, Y: center.Y, Z: center.Z}
	for i, theta := range []float64{0, 90} {
		add("front", i, front, &spatialmath.OrientationVectorDegrees{OX: 1, Theta: theta})
	}

	return grasps
}
