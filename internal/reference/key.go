package reference

import (
	"math"

	"github.com/satindergrewal/infinitechno/internal/music"
)

// Krumhansl-Kessler key profiles, indexed from the tonic.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// DetectKey correlates a duration-weighted pitch-class histogram against
// every rotation of the major and minor profiles. An empty input reports
// A minor.
func DetectKey(events []music.Event) (tonic int, minor bool) {
	var hist [12]float64
	total := 0.0
	for _, e := range events {
		hist[music.PitchClass(e.Pitch)] += e.Duration
		total += e.Duration
	}
	if total == 0 {
		return 9, true
	}

	best := math.Inf(-1)
	for pc := 0; pc < 12; pc++ {
		var rotated [12]float64
		for i := range rotated {
			rotated[i] = hist[(pc+i)%12]
		}
		if r := correlate(rotated, majorProfile); r > best {
			best, tonic, minor = r, pc, false
		}
		if r := correlate(rotated, minorProfile); r > best {
			best, tonic, minor = r, pc, true
		}
	}
	return tonic, minor
}

func correlate(a, b [12]float64) float64 {
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= 12
	mb /= 12

	var num, da, db float64
	for i := range a {
		x, y := a[i]-ma, b[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		return 0
	}
	return num / math.Sqrt(da*db)
}
