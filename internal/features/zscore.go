package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ZScoreReference is the corpus distribution the z-score columns are
// measured against. It is captured once at training time.
type ZScoreReference struct {
	BytesOutMean float64 `json:"bytes_out_mean"`
	BytesOutStd  float64 `json:"bytes_out_std"`
	DurationMean float64 `json:"duration_mean"`
	DurationStd  float64 `json:"duration_std"`
}

// NewZScoreReference computes mean and sample standard deviation of the
// outbound bytes and duration columns.
func NewZScoreReference(vectors []FeatureVector) ZScoreReference {
	bytesOut := make([]float64, len(vectors))
	durations := make([]float64, len(vectors))
	for i, fv := range vectors {
		bytesOut[i] = fv.TotalBytesOut
		durations[i] = fv.DurationSeconds
	}

	ref := ZScoreReference{}
	ref.BytesOutMean, ref.BytesOutStd = meanStd(bytesOut)
	ref.DurationMean, ref.DurationStd = meanStd(durations)
	return ref
}

// Apply fills the z-score columns of fv. A degenerate reference yields 0.
func (r ZScoreReference) Apply(fv *FeatureVector) {
	fv.BytesOutZScore = zscore(fv.TotalBytesOut, r.BytesOutMean, r.BytesOutStd)
	fv.DurationZScore = zscore(fv.DurationSeconds, r.DurationMean, r.DurationStd)
}

func zscore(v, mean, std float64) float64 {
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return (v - mean) / std
}

// meanStd returns the mean and sample standard deviation. Fewer than two
// values have no spread.
func meanStd(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
