package binpick

import (
	"runtime"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/services/motion"
	"go.viam.com/rdk/spatialmath"
)

// Defaults applied by Validate.
const (
	defaultIKTimeoutMs = 50
	defaultApproachMm  = 150.0
	defaultLiftMm      = 40.0
	defaultRetreatMm   = 250.0
)

// Config configures the picker service.
type Config struct {
	Arm     string `json:"arm_name"`
	Gripper string `json:"gripper_name"`
	Motion  string `json:"motion_service,omitempty"`

	// OrderFile is the JSON order file; relative paths resolve against
	// VIAM_MODULE_DATA.
	OrderFile string `json:"order_file"`

	// IKWorkers is the solver pool size for the kinematic filter
	// (default: one per CPU).
	IKWorkers int `json:"ik_workers,omitempty"`

	// IKTimeoutMs bounds each IK attempt (default: 50).
	IKTimeoutMs int `json:"ik_timeout_ms,omitempty"`

	// SkipPregraspCheck disables the pregrasp reachability requirement.
	SkipPregraspCheck bool `json:"skip_pregrasp_check,omitempty"`

	// ManualStep pauses before every pipeline step until a "continue"
	// DoCommand arrives.
	ManualStep bool `json:"manual_step,omitempty"`

	CollisionBufferMm float64 `json:"collision_buffer_mm,omitempty"`

	ApproachMm float64 `json:"approach_mm,omitempty"`
	LiftMm     float64 `json:"lift_mm,omitempty"`
	RetreatMm  float64 `json:"retreat_mm,omitempty"`

	// ShelfPoseMm is the shelf centroid in world coordinates as [x, y, z]
	// (default: origin).
	ShelfPoseMm []float64 `json:"shelf_pose_mm,omitempty"`

	// DropZoneMm is the release point in world coordinates as [x, y, z].
	DropZoneMm []float64 `json:"drop_zone_mm"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
// Returns implicit required and optional dependencies.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Arm == "" {
		return nil, nil, errors.New("arm_name must be specified")
	}
	if cfg.Gripper == "" {
		return nil, nil, errors.New("gripper_name must be specified")
	}
	if cfg.OrderFile == "" {
		return nil, nil, errors.New("order_file must be specified")
	}
	if len(cfg.DropZoneMm) != 3 {
		return nil, nil, errors.Errorf("drop_zone_mm must be [x, y, z], got %d values", len(cfg.DropZoneMm))
	}
	if len(cfg.ShelfPoseMm) != 0 && len(cfg.ShelfPoseMm) != 3 {
		return nil, nil, errors.Errorf("shelf_pose_mm must be [x, y, z], got %d values", len(cfg.ShelfPoseMm))
	}

	if cfg.Motion == "" {
		cfg.Motion = motion.Named("builtin").String()
	}
	if cfg.IKWorkers == 0 {
		cfg.IKWorkers = runtime.NumCPU()
	}
	if cfg.IKWorkers < 0 {
		return nil, nil, errors.Errorf("ik_workers must be positive, got %d", cfg.IKWorkers)
	}
	if cfg.IKTimeoutMs == 0 {
		cfg.IKTimeoutMs = defaultIKTimeoutMs
	}
	if cfg.ApproachMm == 0 {
		cfg.ApproachMm = defaultApproachMm
	}
	if cfg.LiftMm == 0 {
		cfg.LiftMm = defaultLiftMm
	}
	if cfg.RetreatMm == 0 {
		cfg.RetreatMm = defaultRetreatMm
	}

	deps := []string{cfg.Arm, cfg.Gripper, cfg.Motion}
	return deps, nil, nil
}

// IKTimeout returns the per-attempt IK budget as a duration.
func (cfg *Config) IKTimeout() time.Duration {
	return time.Duration(cfg.IKTimeoutMs) * time.Millisecond
}

// ShelfPose returns the configured shelf pose, identity when unset.
func (cfg *Config) ShelfPose() spatialmath.Pose {
	if len(cfg.ShelfPoseMm) != 3 {
		return spatialmath.NewZeroPose()
	}
	return spatialmath.NewPoseFromPoint(r3.Vector{
		X: cfg.ShelfPoseMm[0], Y: cfg.ShelfPoseMm[1], Z: cfg.ShelfPoseMm[2],
	})
}

// DropPose returns the configured drop zone pose, gripper pointing down.
func (cfg *Config) DropPose() spatialmath.Pose {
	point := r3.Vector{}
	if len(cfg.DropZoneMm) == 3 {
		point = r3.Vector{X: cfg.DropZoneMm[0], Y: cfg.DropZoneMm[1], Z: cfg.DropZoneMm[2]}
	}
	return spatialmath.NewPose(point, &spatialmath.OrientationVectorDegrees{OZ: -1})
}
