package analysis

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Framing parameters shared by all short-time features.
const (
	frameLength = 2048
	hopLength   = 512
)

// Krumhansl-Schmuckler key profiles.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

var pitchNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// stft returns the magnitude spectrum of each Hann-windowed frame.
// Signals shorter than one frame are zero-padded to a single frame.
func stft(y []float64) [][]float64 {
	if len(y) == 0 {
		return nil
	}
	if len(y) < frameLength {
		padded := make([]float64, frameLength)
		copy(padded, y)
		y = padded
	}
	window := hann(frameLength)
	fft := fourier.NewFFT(frameLength)

	var frames [][]float64
	buf := make([]float64, frameLength)
	for start := 0; start+frameLength <= len(y); start += hopLength {
		for i := range buf {
			buf[i] = y[start+i] * window[i]
		}
		coeffs := fft.Coefficients(nil, buf)
		mags := make([]float64, len(coeffs))
		for i, c := range coeffs {
			mags[i] = cmplx.Abs(c)
		}
		frames = append(frames, mags)
	}
	return frames
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// rmsFrames computes the root mean square amplitude of each frame.
func rmsFrames(y []float64) []float64 {
	if len(y) == 0 {
		return nil
	}
	if len(y) < frameLength {
		return []float64{rms(y)}
	}
	var out []float64
	for start := 0; start+frameLength <= len(y); start += hopLength {
		out = append(out, rms(y[start:start+frameLength]))
	}
	return out
}

func rms(y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range y {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(y)))
}

// percentile interpolates linearly between the closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// chromaMean folds the power spectrum of every frame onto the twelve
// pitch classes and averages across frames. Bins below 20 Hz are noise
// for this purpose and are skipped.
func chromaMean(frames [][]float64, sr int) [12]float64 {
	var acc [12]float64
	if len(frames) == 0 {
		return acc
	}
	for _, mags := range frames {
		for k, m := range mags {
			f := float64(k) * float64(sr) / frameLength
			if f < 20 || m == 0 {
				continue
			}
			midi := 69 + 12*math.Log2(f/440)
			pc := ((int(math.Round(midi)) % 12) + 12) % 12
			acc[pc] += m * m
		}
	}
	for i := range acc {
		acc[i] /= float64(len(frames))
	}
	return acc
}

// estimateKey correlates the averaged chroma against every rotation of
// the major and minor profiles and keeps the best match. Flat chroma
// correlates with nothing and stays at the "C"/"unknown" default.
func estimateKey(chroma [12]float64) (key, mode string) {
	key, mode = "C", "unknown"
	best := math.Inf(-1)
	for i := 0; i < 12; i++ {
		if r := pearson(chroma, roll(majorProfile, i)); r > best {
			best, key, mode = r, pitchNames[i], "major"
		}
		if r := pearson(chroma, roll(minorProfile, i)); r > best {
			best, key, mode = r, pitchNames[i], "minor"
		}
	}
	return key, mode
}

// roll rotates the profile so that pitch class shift becomes the tonic.
func roll(profile [12]float64, shift int) [12]float64 {
	var out [12]float64
	for j := range profile {
		out[j] = profile[((j-shift)%12+12)%12]
	}
	return out
}

func pearson(a, b [12]float64) float64 {
	var meanA, meanB float64
	for i := 0; i < 12; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= 12
	meanB /= 12
	var cov, varA, varB float64
	for i := 0; i < 12; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	denom := math.Sqrt(varA * varB)
	if denom == 0 {
		return math.NaN()
	}
	return cov / denom
}

// spectralCentroids returns the magnitude-weighted mean frequency of
// each frame in Hz.
func spectralCentroids(frames [][]float64, sr int) []float64 {
	out := make([]float64, len(frames))
	for t, mags := range frames {
		num, den := 0.0, 0.0
		for k, m := range mags {
			num += float64(k) * float64(sr) / frameLength * m
			den += m
		}
		if den > 0 {
			out[t] = num / den
		}
	}
	return out
}

// onsetEnvelope measures the positive spectral flux between adjacent
// frames.
func onsetEnvelope(frames [][]float64) []float64 {
	if len(frames) < 2 {
		return nil
	}
	env := make([]float64, len(frames)-1)
	for t := 1; t < len(frames); t++ {
		sum := 0.0
		for k, m := range frames[t] {
			if d := m - frames[t-1][k]; d > 0 {
				sum += d
			}
		}
		env[t-1] = sum
	}
	return env
}

// estimateTempo autocorrelates the onset envelope over lags between 30
// and 300 BPM, weighting candidates toward a 120 BPM center. A flat
// envelope yields zero.
func estimateTempo(env []float64, sr int) float64 {
	if len(env) < 4 {
		return 0
	}
	mean := meanOf(env)
	centered := make([]float64, len(env))
	for i, v := range env {
		centered[i] = v - mean
	}

	framesPerSec := float64(sr) / hopLength
	minLag := int(framesPerSec * 60 / 300)
	maxLag := int(framesPerSec * 60 / 30)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(centered) {
		maxLag = len(centered) - 1
	}

	bestScore, bestBPM := 0.0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		acf := 0.0
		for i := 0; i+lag < len(centered); i++ {
			acf += centered[i] * centered[i+lag]
		}
		if acf <= 0 {
			continue
		}
		bpm := framesPerSec * 60 / float64(lag)
		weight := math.Exp(-0.5 * math.Pow(math.Log2(bpm/120), 2))
		if score := acf * weight; score > bestScore {
			bestScore, bestBPM = score, bpm
		}
	}
	return bestBPM
}

// countOnsets picks local maxima in the envelope that clear one
// standard deviation above the mean.
func countOnsets(env []float64) int {
	if len(env) < 3 {
		return 0
	}
	mean := meanOf(env)
	threshold := mean + stddev(env, mean)
	count := 0
	for i := 1; i < len(env)-1; i++ {
		if env[i] > threshold && env[i] > env[i-1] && env[i] >= env[i+1] {
			count++
		}
	}
	return count
}

// nonSilentSpans returns sample ranges [start, end) whose frame level
// stays within topDB of the loudest frame.
func nonSilentSpans(y []float64, rms []float64, topDB float64) [][2]int {
	if len(rms) == 0 {
		return nil
	}
	loudest := 0.0
	for _, v := range rms {
		if v > loudest {
			loudest = v
		}
	}
	if loudest == 0 {
		return nil
	}

	keep := make([]bool, len(rms))
	for i, v := range rms {
		keep[i] = v > 0 && 20*math.Log10(v/loudest) > -topDB
	}

	var spans [][2]int
	start := -1
	for i, k := range keep {
		switch {
		case k && start < 0:
			start = i
		case !k && start >= 0:
			spans = append(spans, frameSpan(start, i, len(y)))
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, frameSpan(start, len(keep), len(y)))
	}
	return spans
}

// frameSpan converts a [startFrame, endFrame) run to sample indices,
// clipped to the signal length.
func frameSpan(startFrame, endFrame, n int) [2]int {
	start := startFrame * hopLength
	end := (endFrame-1)*hopLength + frameLength
	if end > n {
		end = n
	}
	if start > n {
		start = n
	}
	return [2]int{start, end}
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func stddev(v []float64, mean float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}

func meanAbs(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += math.Abs(x)
	}
	return sum / float64(len(v))
}
