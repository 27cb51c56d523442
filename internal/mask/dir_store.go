package mask

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/raster"
)

// Decoder reads a mask file into memory.
type Decoder func(ctx context.Context, path, site string, year int) (*raster.LandCover, error)

// DirStore finds masks named <year>_coverage_*.tif. A pre-cut mask under
// CutDir/<site> wins over the full mask in Dir.
type DirStore struct {
	Dir    string
	CutDir string
	Decode Decoder
}

func (s *DirStore) Load(ctx context.Context, site string, year int) (*raster.LandCover, error) {
	path, err := s.Locate(site, year)
	if err != nil {
		return nil, err
	}
	if s.Decode == nil {
		return nil, fmt.Errorf("no decoder configured for %s", path)
	}
	return s.Decode(ctx, path, site, year)
}

// Locate returns the path of the mask file for (site, year).
func (s *DirStore) Locate(site string, year int) (string, error) {
	var dirs []string
	if s.CutDir != "" && site != "" {
		dirs = append(dirs, filepath.Join(s.CutDir, site))
	}
	if s.Dir != "" {
		dirs = append(dirs, s.Dir)
	}
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, Pattern(year)))
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("%w: %s/%d", ErrNoMask, site, year)
}

// Pattern is the glob of mask files of one year.
func Pattern(year int) string {
	return strconv.Itoa(year) + "_coverage_*.tif"
}

// CutName is the file name of a mask pre-cut for one site.
func CutName(year int, site string) string {
	return fmt.Sprintf("%d_coverage_%s.tif", year, site)
}

// ParseYear extracts the year of a file named <year>_coverage_....
func ParseYear(name string) (int, bool) {
	head, rest, ok := strings.Cut(filepath.Base(name), "_")
	if !ok || !strings.HasPrefix(rest, "coverage_") {
		return 0, false
	}
	year, err := strconv.Atoi(head)
	if err != nil || year <= 0 {
		return 0, false
	}
	return year, true
}

// Years lists the mask files of dir keyed by year. When a year has several
// files the first in lexical order wins.
func Years(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	years := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".tif") {
			continue
		}
		year, ok := ParseYear(e.Name())
		if !ok {
			continue
		}
		if _, seen := years[year]; !seen {
			years[year] = filepath.Join(dir, e.Name())
		}
	}
	return years, nil
}
