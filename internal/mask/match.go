package mask

import (
	"errors"
	"fmt"
	"math"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
)

// NoClass is assigned to target pixels that fall outside the source mask.
const NoClass int32 = 0

// PointFunc converts a coordinate of the target grid into the mask's system.
type PointFunc func(x, y float64) (float64, float64, error)

// Identity is the PointFunc of a mask already in the target system.
func Identity(x, y float64) (float64, float64, error) { return x, y, nil }

// Match samples the mask at every pixel center of dst with nearest-neighbour
// lookup and returns a mask on dst's grid. The source mask is not modified.
func Match(src *raster.LandCover, dst raster.Geometry, dstCRS string, toSrc PointFunc) (*raster.LandCover, error) {
	if src == nil {
		return nil, errors.New("nil mask")
	}
	if src.Transform.Rotated() {
		return nil, fmt.Errorf("mask %s/%d has a rotated geotransform", src.Site, src.Year)
	}
	pw, ph := src.Transform.PixelWidth(), src.Transform.PixelHeight()
	if pw == 0 || ph == 0 {
		return nil, fmt.Errorf("%w: mask %s/%d has a zero pixel size", raster.ErrShape, src.Site, src.Year)
	}
	if toSrc == nil {
		toSrc = Identity
	}
	if src.SameGrid(dst) && src.CRS == dstCRS {
		return src, nil
	}

	x0, y0 := src.Transform.OriginX(), src.Transform.OriginY()
	classes := make([]int32, dst.Len())
	for r := range dst.Height {
		for c := range dst.Width {
			i := r*dst.Width + c
			x, y := dst.Transform.Center(c, r)
			sx, sy, err := toSrc(x, y)
			if err != nil {
				return nil, fmt.Errorf("locate pixel %d,%d in mask: %w", c, r, err)
			}
			col := int(math.Floor((sx - x0) / pw))
			row := int(math.Floor((sy - y0) / ph))
			if col < 0 || col >= src.Width || row < 0 || row >= src.Height {
				classes[i] = NoClass
				continue
			}
			classes[i] = src.Classes[row*src.Width+col]
		}
	}
	return raster.NewLandCover(dst.Width, dst.Height, classes, dst.Transform, dstCRS, src.Site, src.Year)
}
