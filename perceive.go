package binpick

import (
	"context"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// Perceiver localizes the ordered product in the world frame. Failures are
// per-pick: the pipeline skips the order and moves on.
type Perceiver interface {
	ProductPose(ctx context.Context, order WorkOrder) (spatialmath.Pose, r3.Vector, error)
}

// shelfPerceiver reports products exactly where the shelf model says they
// are. It stands in for a camera-backed perceiver during bring-up.
type shelfPerceiver struct {
	shelf *Shelf
}

// NewShelfPerceiver returns a Perceiver backed by the shelf model itself.
func NewShelfPerceiver(shelf *Shelf) Perceiver {
	return &shelfPerceiver{shelf: shelf}
}

func (sp *shelfPerceiver) ProductPose(ctx context.Context, order WorkOrder) (spatialmath.Pose, r3.Vector, error) {
	bin, product, err := sp.shelf.FindProduct(order.Bin, order.Item)
	if err != nil {
		return nil, r3.Vector{}, err
	}
	return sp.shelf.ProductWorldPose(bin, product), product.Dims, nil
}
