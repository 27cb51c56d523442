// Package timeseries turns accepted coarse-cell results into dated rows.
package timeseries

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/forest-guardian/virtual-pixel-regrid/internal/aggregate"
)

var ErrNoDate = errors.New("acquisition date not found in file name")

var doyPattern = regexp.MustCompile(`doy(\d{4})(\d{3})`)

// Acquisition is the date a raster was acquired.
type Acquisition struct {
	Year int
	DOY  int
	Date time.Time
}

func NewAcquisition(year, doy int) (Acquisition, error) {
	if year <= 0 {
		return Acquisition{}, fmt.Errorf("invalid year %d", year)
	}
	days := 365
	if isLeap(year) {
		days = 366
	}
	if doy < 1 || doy > days {
		return Acquisition{}, fmt.Errorf("day of year %d out of range for %d", doy, year)
	}
	date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
	return Acquisition{Year: year, DOY: doy, Date: date}, nil
}

// ParseAcquisition reads the doyYYYYDDD stamp of an ECOSTRESS file name, as in
// ECO2LSTE.001_SDS_LST_doy2019214061337_aid0001.tif.
func ParseAcquisition(filename string) (Acquisition, error) {
	m := doyPattern.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return Acquisition{}, fmt.Errorf("%w: %s", ErrNoDate, filename)
	}
	year, _ := strconv.Atoi(m[1])
	doy, _ := strconv.Atoi(m[2])
	acq, err := NewAcquisition(year, doy)
	if err != nil {
		return Acquisition{}, fmt.Errorf("%s: %w", filename, err)
	}
	return acq, nil
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// Date is rendered as YYYY-MM-DD in tables.
type Date struct {
	time.Time
}

func (d Date) MarshalCSV() (string, error) {
	return d.Format(time.DateOnly), nil
}

func (d *Date) UnmarshalCSV(s string) error {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Record is one row of a pixel time series. The value column is renamed to
// the variable name on export.
type Record struct {
	Date      Date    `csv:"date" json:"date"`
	Year      int     `csv:"year" json:"year"`
	DOY       int     `csv:"doy" json:"doy"`
	Latitude  float64 `csv:"latitude" json:"latitude"`
	Longitude float64 `csv:"longitude" json:"longitude"`
	Value     float64 `csv:"value" json:"value"`
	PixelID   string  `csv:"pixel_id" json:"pixel_id"`
	X         float64 `csv:"x" json:"x"`
	Y         float64 `csv:"y" json:"y"`
	Filename  string  `csv:"filename" json:"filename"`
}

// Assemble returns one record per accepted result. Rejected results and
// results without a defined mean are dropped.
func Assemble(results []aggregate.Result, acq Acquisition, filename string) []Record {
	records := make([]Record, 0, len(results))
	name := filepath.Base(filename)
	for _, r := range results {
		if !r.Accepted {
			continue
		}
		mean, ok := r.MeanValue()
		if !ok {
			continue
		}
		records = append(records, Record{
			Date:      Date{acq.Date},
			Year:      acq.Year,
			DOY:       acq.DOY,
			Latitude:  r.Cell.Lat,
			Longitude: r.Cell.Lon,
			Value:     mean,
			PixelID:   r.Cell.ID,
			X:         r.Cell.X,
			Y:         r.Cell.Y,
			Filename:  name,
		})
	}
	return records
}

// Sort orders records by pixel id, then date, then file name.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.PixelID != b.PixelID {
			return a.PixelID < b.PixelID
		}
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		return a.Filename < b.Filename
	})
}

// Concat joins record sets without deduplication.
func Concat(batches ...[]Record) []Record {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	out := make([]Record, 0, n)
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}
