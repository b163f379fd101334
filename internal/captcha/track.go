package captcha

import "math/rand"

// RefWindowWidth is the puzzle UI's nominal pixel width. The platform
// validates drag distances against this window, not the served image size.
const RefWindowWidth = 260

// Drag model constants. All randomized per track within fixed ranges so the
// signature is not rigidly repeatable; none are tunable at call time.
const (
	pressDelayMinMS = 1000 // pause before touching the slider
	pressDelayMaxMS = 2500
	firstStepMinMS  = 50 // a human's first move is slower than the rest
	firstStepMaxMS  = 100
	stepMinMS       = 10
	stepMaxMS       = 30
	releaseMinMS    = 5
	releaseMaxMS    = 10

	accelMin = 1500 // px/s², while short of the braking threshold
	accelMax = 3000
	decelMin = -2000 // px/s², once past it
	decelMax = -1500

	brakeFracMin = 0.75 // fraction of the distance where braking starts
	brakeFracMax = 0.80

	maxSteps = 1000
)

type TrackPoint struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Type string `json:"type"` // down, move, up
	T    int    `json:"t"`    // milliseconds since an arbitrary epoch
}

// SynthesizeTrack produces a press/move/release sequence covering distance
// reference-window pixels, integrating piecewise-constant random acceleration
// at randomized timesteps. Timestamps are non-decreasing; the release point
// is always at or beyond the target.
func SynthesizeTrack(distance int) []TrackPoint {
	target := float64(distance)
	brakeAt := target * randFloat(brakeFracMin, brakeFracMax)

	x := 0.0
	v := 0.0
	t := randInt(pressDelayMinMS, pressDelayMaxMS)

	track := []TrackPoint{{X: 0, Y: 0, Type: "down", T: t}}
	first := true
	for steps := 0; x < target; steps++ {
		if steps >= maxSteps {
			x = target
			track = append(track, TrackPoint{X: int(x), Y: 0, Type: "move", T: t})
			break
		}
		var sep int
		if first {
			sep = randInt(firstStepMinMS, firstStepMaxMS)
			first = false
		} else {
			sep = randInt(stepMinMS, stepMaxMS)
		}
		var a float64
		if x < brakeAt {
			a = randFloat(accelMin, accelMax)
		} else {
			a = randFloat(decelMin, decelMax)
		}
		dt := float64(sep) / 1000.0
		t += sep
		x += 0.5*a*dt*dt + v*dt
		v += a * dt
		if v < 0 {
			// Braking must not reverse the drag.
			v = 0
		}
		track = append(track, TrackPoint{X: int(x), Y: 0, Type: "move", T: t})
	}
	track = append(track, TrackPoint{X: int(x), Y: 0, Type: "up", T: t + randInt(releaseMinMS, releaseMaxMS)})
	return track
}

func randInt(lo, hi int) int {
	return lo + rand.Intn(hi-lo+1)
}

func randFloat(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}
