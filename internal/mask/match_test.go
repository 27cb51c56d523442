package mask

import (
	"testing"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchNearestNeighbour(t *testing.T) {
	// 30 m mask, 2x2 classes
	src, err := raster.NewLandCover(2, 2, []int32{3, 15, 4, 33}, raster.Affine{1000, 30, 0, 2000, 0, -30}, "EPSG:32721", "ATTO", 2020)
	require.NoError(t, err)

	// 15 m target over the same area plus one column to the east
	dst := raster.Geometry{Width: 5, Height: 4, Transform: raster.Affine{1000, 15, 0, 2000, 0, -15}}
	out, err := Match(src, dst, "EPSG:32721", nil)
	require.NoError(t, err)

	assert.Equal(t, []int32{
		3, 3, 15, 15, NoClass,
		3, 3, 15, 15, NoClass,
		4, 4, 33, 33, NoClass,
		4, 4, 33, 33, NoClass,
	}, out.Classes)
	assert.True(t, out.SameGrid(dst))
	assert.Equal(t, 2020, out.Year)
	assert.Equal(t, "ATTO", out.Site)
	assert.Equal(t, []int32{3, 15, 4, 33}, src.Classes)
}

func TestMatchWithPointFunc(t *testing.T) {
	src, err := raster.NewLandCover(2, 1, []int32{5, 6}, raster.Affine{0, 1, 0, 1, 0, -1}, "EPSG:4326", "K34", 2019)
	require.NoError(t, err)

	dst := raster.Geometry{Width: 2, Height: 1, Transform: raster.Affine{100, 10, 0, 10, 0, -10}}
	scale := func(x, y float64) (float64, float64, error) { return (x - 100) / 10, y / 10, nil }
	out, err := Match(src, dst, "EPSG:32721", scale)
	require.NoError(t, err)
	assert.Equal(t, []int32{5, 6}, out.Classes)
	assert.Equal(t, "EPSG:32721", out.CRS)
}

func TestMatchSameGridReturnsSource(t *testing.T) {
	src, err := raster.NewLandCover(1, 1, []int32{3}, raster.Affine{0, 1, 0, 0, 0, -1}, "EPSG:32721", "ATTO", 2020)
	require.NoError(t, err)
	out, err := Match(src, src.Geometry, "EPSG:32721", nil)
	require.NoError(t, err)
	assert.Same(t, src, out)
}
