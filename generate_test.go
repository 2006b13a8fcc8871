package binpick

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

func TestGenerateGrasps(t *testing.T) {
	pose := spatialmath.NewPoseFromPoint(r3.Vector{X: 300, Y: -50, Z: 150})
	dims := r3.Vector{X: 60, Y: 80, Z: 100}

	grasps := GenerateGrasps("soap", pose, dims, 120)
	if len(grasps) != 4 {
		t.Fatalf("expected 4 grasps, got %d", len(grasps))
	}

	seen := map[string]bool{}
	for _, g := range grasps {
		if seen[g.Name] {
			t.Fatalf("duplicate grasp name %q", g.Name)
		}
		seen[g.Name] = true

		if g.ApproachMm != 120 {
			t.Fatalf("grasp %q approach %.0f, want 120", g.Name, g.ApproachMm)
		}
		if len(g.PregraspPosture) == 0 || len(g.GraspPosture) == 0 {
			t.Fatalf("grasp %q missing finger postures", g.Name)
		}
		if g.PregraspPosture[0] <= g.GraspPosture[0] {
			t.Fatalf("grasp %q pregrasp posture should be wider than grasp posture", g.Name)
		}
	}
}

func TestGenerateGraspsApproachDirections(t *testing.T) {
	pose := spatialmath.NewPoseFromPoint(r3.Vector{X: 300, Y: -50, Z: 150})
	dims := r3.Vector{X: 60, Y: 80, Z: 100}
	grasps := GenerateGrasps("soap", pose, dims, 120)

	for _, g := range grasps {
		grasp := g.Pose.Point()
		pregrasp := g.PregraspPose().Point()

		switch {
		case grasp.Z > pose.Point().Z:
			// Overhand: target on the top face, staging straight above it.
			if pregrasp.Z-grasp.Z < 119 {
				t.Fatalf("grasp %q pregrasp should back off upward, grasp Z=%.0f pregrasp Z=%.0f", g.Name, grasp.Z, pregrasp.Z)
			}
		case grasp.X < pose.Point().X:
			// Front: target on the near face, staging backed out of the bin.
			if grasp.X-pregrasp.X < 119 {
				t.Fatalf("grasp %q pregrasp should back off out of the bin, grasp X=%.0f pregrasp X=%.0f", g.Name, grasp.X, pregrasp.X)
			}
		default:
			t.Fatalf("grasp %q targets neither the top nor the near face: %v", g.Name, grasp)
		}
	}
}
