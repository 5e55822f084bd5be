package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

// RobustScaler centres each column on its median and scales by the
// interquartile range, so heavy-tailed byte counters do not dominate.
type RobustScaler struct {
	Center []float64 `json:"center"`
	Scale  []float64 `json:"scale"`
}

func NewRobustScaler() *RobustScaler {
	return &RobustScaler{}
}

func (rs *RobustScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: no data provided to scaler", models.ErrInput)
	}

	numFeatures := len(data[0])
	rs.Center = make([]float64, numFeatures)
	rs.Scale = make([]float64, numFeatures)

	column := make([]float64, len(data))
	for j := 0; j < numFeatures; j++ {
		for i, row := range data {
			if len(row) != numFeatures {
				return fmt.Errorf("%w: row %d has %d columns, want %d", models.ErrSchema, i, len(row), numFeatures)
			}
			column[i] = row[j]
		}
		sort.Float64s(column)

		rs.Center[j] = percentileSorted(column, 50)
		iqr := percentileSorted(column, 75) - percentileSorted(column, 25)
		if iqr == 0 {
			iqr = 1.0
		}
		rs.Scale[j] = iqr
	}

	return nil
}

func (rs *RobustScaler) Transform(data [][]float64) ([][]float64, error) {
	if len(rs.Center) == 0 {
		return nil, fmt.Errorf("%w: scaler not fitted", models.ErrConfiguration)
	}

	result := make([][]float64, len(data))
	for i, sample := range data {
		if len(sample) != len(rs.Center) {
			return nil, fmt.Errorf("%w: sample %d has %d columns, scaler fitted on %d", models.ErrSchema, i, len(sample), len(rs.Center))
		}
		scaled := make([]float64, len(sample))
		for j, value := range sample {
			scaled[j] = (value - rs.Center[j]) / rs.Scale[j]
		}
		result[i] = scaled
	}

	return result, nil
}

// validate checks a decoded scaler against the expected column count
func (rs *RobustScaler) validate(columns int) error {
	if len(rs.Center) != columns || len(rs.Scale) != columns {
		return fmt.Errorf("%w: scaler fitted on %d/%d columns, model has %d", models.ErrSchema, len(rs.Center), len(rs.Scale), columns)
	}
	for j, s := range rs.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) || math.IsNaN(rs.Center[j]) || math.IsInf(rs.Center[j], 0) {
			return fmt.Errorf("%w: scaler column %d is not usable", models.ErrSchema, j)
		}
	}
	return nil
}

// percentileSorted interpolates linearly between closest ranks
func percentileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
