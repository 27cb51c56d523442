// Package projection converts coordinates between the processing projection
// and geographic longitude/latitude, and derives stable pixel identifiers from
// projected coordinates.
package projection

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/geom/proj"
)

const (
	// UTM21S is the metric projection used for the central Amazon sites.
	UTM21S = "+proj=utm +zone=21 +south +ellps=WGS84 +datum=WGS84 +units=m +no_defs"
	WGS84  = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"
)

// Transformer converts between one projected system and geographic coordinates.
type Transformer struct {
	// proj rewrites fields of its SR on every call, so calls are serialized.
	mu      sync.Mutex
	inverse proj.Transformer
	forward proj.Transformer
}

// New builds a Transformer from PROJ.4 definitions of the projected and the
// geographic system.
func New(projectedDef, geographicDef string) (*Transformer, error) {
	src, err := proj.Parse(projectedDef)
	if err != nil {
		return nil, fmt.Errorf("failed to parse projected system %q: %w", projectedDef, err)
	}
	dst, err := proj.Parse(geographicDef)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geographic system %q: %w", geographicDef, err)
	}
	inverse, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create projected->geographic transform: %w", err)
	}
	forward, err := dst.NewTransform(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create geographic->projected transform: %w", err)
	}
	return &Transformer{inverse: inverse, forward: forward}, nil
}

// NewFromEPSG builds a Transformer from an EPSG code such as "EPSG:32721".
func NewFromEPSG(code string) (*Transformer, error) {
	epsg, err := ParseEPSG(code)
	if err != nil {
		return nil, err
	}
	def, err := EPSGToProj(epsg)
	if err != nil {
		return nil, err
	}
	return New(def, WGS84)
}

// ToGeographic converts projected x, y (meters) to longitude, latitude (degrees).
func (t *Transformer) ToGeographic(x, y float64) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	lon, lat, err := t.inverse(x, y)
	if err != nil {
		return 0, 0, fmt.Errorf("transform (%f, %f) to geographic: %w", x, y, err)
	}
	return lon, lat, nil
}

// ToProjected converts longitude, latitude (degrees) to projected x, y.
func (t *Transformer) ToProjected(lon, lat float64) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	x, y, err := t.forward(lon, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("transform (%f, %f) to projected: %w", lon, lat, err)
	}
	return x, y, nil
}

// PixelID formats the identifier of a pixel centered at projected (x, y).
// Coordinates are floored to whole meters, so centers at least 1 m apart on
// either axis get distinct identifiers.
func PixelID(x, y float64) string {
	return strconv.FormatInt(int64(math.Floor(x)), 10) + "_" + strconv.FormatInt(int64(math.Floor(y)), 10)
}

// ParseEPSG accepts "EPSG:32721", "epsg:32721" or "32721".
func ParseEPSG(code string) (int, error) {
	s := strings.TrimSpace(code)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if !strings.EqualFold(s[:i], "EPSG") {
			return 0, fmt.Errorf("unsupported authority in %q", code)
		}
		s = s[i+1:]
	}
	epsg, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid EPSG code %q: %w", code, err)
	}
	return epsg, nil
}

// EPSGToProj returns the PROJ.4 definition of WGS84 (4326) and of the WGS84
// UTM zones (326zz north, 327zz south).
func EPSGToProj(epsg int) (string, error) {
	switch {
	case epsg == 4326:
		return WGS84, nil
	case epsg > 32600 && epsg <= 32660:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84 +datum=WGS84 +units=m +no_defs", epsg-32600), nil
	case epsg > 32700 && epsg <= 32760:
		return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=WGS84 +datum=WGS84 +units=m +no_defs", epsg-32700), nil
	}
	return "", fmt.Errorf("unsupported EPSG code %d", epsg)
}
