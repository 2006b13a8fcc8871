// Package binpick picks ordered products out of a storage shelf with an arm,
// a gripper, and the grasp filtering core in graspfilter.
package binpick

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// Standard pod layout: 12 bins in a 3 x 4 grid, named bin_A through bin_L
// across each row from the top left.
const (
	shelfColumns = 3
	shelfRows    = 4

	binWidthMm  = 270.0
	binHeightMm = 240.0
	binDepthMm  = 430.0

	wallThicknessMm = 10.0

	// Default footprint of a stocked product when the order file gives no
	// dimensions of its own.
	defaultProductMm = 60.0
)

// Product is a stocked item. Its pose is relative to the centroid of the bin
// holding it.
type Product struct {
	Name string
	Pose spatialmath.Pose
	Dims r3.Vector
}

// Bin is one cavity of the shelf. Its pose is relative to the shelf centroid.
type Bin struct {
	Name     string
	Pose     spatialmath.Pose
	Dims     r3.Vector
	Products []*Product
}

// Shelf is the full storage pod in the world frame. Bins open toward -X, so a
// robot standing on the -X side reaches into them along +X.
type Shelf struct {
	Pose spatialmath.Pose
	Dims r3.Vector
	Bins []*Bin
}

// NewShelf builds the standard 12-bin pod at the given world pose.
func NewShelf(pose spatialmath.Pose) *Shelf {
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}

	width := shelfColumns*binWidthMm + (shelfColumns+1)*wallThicknessMm
	height := shelfRows*binHeightMm + (shelfRows+1)*wallThicknessMm

	s := &Shelf{
		Pose: pose,
		Dims: r3.Vector{X: binDepthMm, Y: width, Z: height},
	}

	// bin_A is the top-left cavity seen from the open face.
	for row := 0; row < shelfRows; row++ {
		for col := 0; col < shelfColumns; col++ {
			name := fmt.Sprintf("bin_%c", 'A'+byte(row*shelfColumns+col))
			y := width/2 - wallThicknessMm - binWidthMm/2 - float64(col)*(binWidthMm+wallThicknessMm)
			z := height/2 - wallThicknessMm - binHeightMm/2 - float64(row)*(binHeightMm+wallThicknessMm)
			s.Bins = append(s.Bins, &Bin{
				Name: name,
				Pose: spatialmath.NewPoseFromPoint(r3.Vector{Y: y, Z: z}),
				Dims: r3.Vector{X: binDepthMm, Y: binWidthMm, Z: binHeightMm},
			})
		}
	}
	return s
}

// Bin returns the named bin.
func (s *Shelf) Bin(name string) (*Bin, error) {
	for _, b := range s.Bins {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, errors.Errorf("shelf has no bin %q", name)
}

// FindProduct returns the named product inside the named bin.
func (s *Shelf) FindProduct(binName, productName string) (*Bin, *Product, error) {
	b, err := s.Bin(binName)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range b.Products {
		if p.Name == productName {
			return b, p, nil
		}
	}
	return nil, nil, errors.Errorf("bin %q does not hold %q", binName, productName)
}

// RemoveProduct takes a product out of the shelf model after a successful pick.
func (s *Shelf) RemoveProduct(binName, productName string) error {
	b, err := s.Bin(binName)
	if err != nil {
		return err
	}
	for i, p := range b.Products {
		if p.Name == productName {
			b.Products = append(b.Products[:i], b.Products[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("bin %q does not hold %q", binName, productName)
}

// StockBin places products into a bin side by side on its floor.
func (s *Shelf) StockBin(binName string, productNames []string) error {
	b, err := s.Bin(binName)
	if err != nil {
		return err
	}
	spacing := b.Dims.Y / float64(len(productNames)+1)
	for i, name := range productNames {
		b.Products = append(b.Products, &Product{
			Name: name,
			Pose: spatialmath.NewPoseFromPoint(r3.Vector{
				Y: b.Dims.Y/2 - float64(i+1)*spacing,
				Z: -b.Dims.Z/2 + defaultProductMm/2,
			}),
			Dims: r3.Vector{X: defaultProductMm, Y: defaultProductMm, Z: defaultProductMm},
		})
	}
	return nil
}

// BinWorldPose composes the bin's pose with the shelf's world pose.
func (s *Shelf) BinWorldPose(b *Bin) spatialmath.Pose {
	return spatialmath.Compose(s.Pose, b.Pose)
}

// ProductWorldPose composes a product's pose out to the world frame.
func (s *Shelf) ProductWorldPose(b *Bin, p *Product) spatialmath.Pose {
	return spatialmath.Compose(s.BinWorldPose(b), p.Pose)
}

// SceneGeometries builds the collision geometry of the shelf: its walls and
// dividers plus every stocked product, except products in the focus bin. The
// bin being picked from stays open so grasps into it are not rejected against
// their own target.
func (s *Shelf) SceneGeometries(focusBin string) ([]spatialmath.Geometry, error) {
	geometries, err := s.frameGeometries()
	if err != nil {
		return nil, err
	}

	for _, b := range s.Bins {
		if b.Name == focusBin {
			continue
		}
		for _, p := range b.Products {
			box, err := spatialmath.NewBox(s.ProductWorldPose(b, p), p.Dims, b.Name+"/"+p.Name)
			if err != nil {
				return nil, errors.Wrapf(err, "product %q", p.Name)
			}
			geometries = append(geometries, box)
		}
	}
	return geometries, nil
}

// frameGeometries builds the back wall, side walls, and the horizontal and
// vertical dividers between bins.
func (s *Shelf) frameGeometries() ([]spatialmath.Geometry, error) {
	var geometries []spatialmath.Geometry

	add := func(offset r3.Vector, dims r3.Vector, label string) error {
		pose := spatialmath.Compose(s.Pose, spatialmath.NewPoseFromPoint(offset))
		box, err := spatialmath.NewBox(pose, dims, label)
		if err != nil {
			return errors.Wrap(err, label)
		}
		geometries = append(geometries, box)
		return nil
	}

	if err := add(
		r3.Vector{X: s.Dims.X/2 - wallThicknessMm/2},
		r3.Vector{X: wallThicknessMm, Y: s.Dims.Y, Z: s.Dims.Z},
		"shelf_back",
	); err != nil {
		return nil, err
	}

	// Vertical dividers, outermost two being the side walls.
	for col := 0; col <= shelfColumns; col++ {
		y := s.Dims.Y/2 - wallThicknessMm/2 - float64(col)*(binWidthMm+wallThicknessMm)
		if err := add(
			r3.Vector{Y: y},
			r3.Vector{X: s.Dims.X, Y: wallThicknessMm, Z: s.Dims.Z},
			fmt.Sprintf("shelf_divider_v%d", col),
		); err != nil {
			return nil, err
		}
	}

	// Horizontal dividers, outermost two being the top and bottom panels.
	for row := 0; row <= shelfRows; row++ {
		z := s.Dims.Z/2 - wallThicknessMm/2 - float64(row)*(binHeightMm+wallThicknessMm)
		if err := add(
			r3.Vector{Z: z},
			r3.Vector{X: s.Dims.X, Y: s.Dims.Y, Z: wallThicknessMm},
			fmt.Sprintf("shelf_divider_h%d", row),
		); err != nil {
			return nil, err
		}
	}

	return geometries, nil
}
