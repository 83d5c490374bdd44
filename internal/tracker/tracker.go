// Package tracker turns noisy per-frame face detections into temporally
// stable track identities. It is a pure in-process component: the whole
// state (the previous track list) flows in and out of Update as plain
// data, and nothing here performs I/O.
package tracker

import (
	"fmt"
	"math"
)

// Box is a normalized bounding box. All coordinates are fractions of the
// frame size, nominally in [0,1].
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() float64 { return b.X + b.Width/2 }

// CenterY returns the vertical center of the box.
func (b Box) CenterY() float64 { return b.Y + b.Height/2 }

// centerDistance is the Euclidean distance between two box centers.
func centerDistance(a, b Box) float64 {
	dx := a.CenterX() - b.CenterX()
	dy := a.CenterY() - b.CenterY()
	return math.Sqrt(dx*dx + dy*dy)
}

// Track is one face identity carried across detection cycles. Age 0
// means the track matched a detection this cycle; age > 0 marks a ghost
// retained through brief detection dropout. Capture logic must only act
// on age-0 tracks.
type Track struct {
	ID  int `json:"id"`
	Box Box `json:"box"`
	Age int `json:"age"`
}

// Params tunes filtering, matching and smoothing. Use DefaultParams and
// adjust; NewTracker rejects out-of-range values.
type Params struct {
	// Detections whose vertical center falls outside [BandTop, BandBottom]
	// are discarded before matching. Rejects fixed UI chrome at the frame
	// edges.
	BandTop    float64 `json:"band_top" yaml:"band_top"`
	BandBottom float64 `json:"band_bottom" yaml:"band_bottom"`

	// Minimum box size as a fraction of the frame.
	MinWidth  float64 `json:"min_width" yaml:"min_width"`
	MinHeight float64 `json:"min_height" yaml:"min_height"`

	// Accepted width/height ratio range. Faces are roughly square;
	// extreme ratios are usually hands or occlusions.
	MinAspect float64 `json:"min_aspect" yaml:"min_aspect"`
	MaxAspect float64 `json:"max_aspect" yaml:"max_aspect"`

	// MatchThreshold is the maximum center distance for a detection to
	// extend an existing track.
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold"`

	// SmoothingFactor moves a matched track toward the new detection:
	// old + (new-old)*factor. 1 disables smoothing.
	SmoothingFactor float64 `json:"smoothing_factor" yaml:"smoothing_factor"`

	// MaxAge is the number of cycles an unmatched track survives as a
	// ghost before being dropped.
	MaxAge int `json:"max_age" yaml:"max_age"`
}

// DefaultParams returns the tuning used by the live demo.
func DefaultParams() Params {
	return Params{
		BandTop:         0.10,
		BandBottom:      0.90,
		MinWidth:        0.04,
		MinHeight:       0.04,
		MinAspect:       0.5,
		MaxAspect:       1.8,
		MatchThreshold:  0.12,
		SmoothingFactor: 0.35,
		MaxAge:          8,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.MatchThreshold <= 0 {
		return fmt.Errorf("tracker: match threshold must be positive, got %v", p.MatchThreshold)
	}
	if p.SmoothingFactor <= 0 || p.SmoothingFactor > 1 {
		return fmt.Errorf("tracker: smoothing factor must be in (0,1], got %v", p.SmoothingFactor)
	}
	if p.MaxAge < 0 {
		return fmt.Errorf("tracker: max age must be non-negative, got %d", p.MaxAge)
	}
	if p.BandTop >= p.BandBottom {
		return fmt.Errorf("tracker: band top %v must be below band bottom %v", p.BandTop, p.BandBottom)
	}
	if p.MinWidth < 0 || p.MinHeight < 0 {
		return fmt.Errorf("tracker: minimum sizes must be non-negative")
	}
	if p.MinAspect <= 0 || p.MaxAspect < p.MinAspect {
		return fmt.Errorf("tracker: aspect range [%v,%v] is invalid", p.MinAspect, p.MaxAspect)
	}
	return nil
}

// Tracker carries the parameters and the monotonically increasing track
// id allocator. Track ids are unique for the tracker's lifetime and are
// never reused.
type Tracker struct {
	params Params
	nextID int
}

// NewTracker creates a tracker after validating the parameters.
func NewTracker(params Params) (*Tracker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{params: params, nextID: 1}, nil
}

// Params returns the tracker's tuning.
func (t *Tracker) Params() Params { return t.params }

// Update runs one detection cycle: it filters the raw detections,
// greedily matches them to the previous tracks, smooths matched boxes,
// ages unmatched tracks into ghosts and spawns new tracks for leftover
// detections. The previous slice is not modified.
//
// Matching is greedy in track-iteration order, not a global minimum-cost
// assignment: two tracks near the same detection can bind to a
// locally-but-not-globally optimal pairing. That trade-off is accepted
// for speed and simplicity.
func (t *Tracker) Update(previous []Track, detections []Box) []Track {
	candidates := t.filter(detections)
	used := make([]bool, len(candidates))
	next := make([]Track, 0, len(previous)+len(candidates))

	for _, track := range previous {
		best := -1
		bestDist := t.params.MatchThreshold
		for i, det := range candidates {
			if used[i] {
				continue
			}
			if d := centerDistance(track.Box, det); d < bestDist {
				best = i
				bestDist = d
			}
		}
		if best >= 0 {
			used[best] = true
			track.Box = smooth(track.Box, candidates[best], t.params.SmoothingFactor)
			track.Age = 0
			next = append(next, track)
			continue
		}
		// Ghost: keep the last known box, decay until MaxAge.
		track.Age++
		if track.Age <= t.params.MaxAge {
			next = append(next, track)
		}
	}

	for i, det := range candidates {
		if used[i] {
			continue
		}
		next = append(next, Track{ID: t.nextID, Box: det, Age: 0})
		t.nextID++
	}

	return next
}

// filter drops detections outside the vertical band, below the minimum
// size, or with a non-face aspect ratio. Runs before matching so junk
// detections can never capture a track.
func (t *Tracker) filter(detections []Box) []Box {
	out := make([]Box, 0, len(detections))
	for _, d := range detections {
		cy := d.CenterY()
		if cy < t.params.BandTop || cy > t.params.BandBottom {
			continue
		}
		if d.Width < t.params.MinWidth || d.Height < t.params.MinHeight {
			continue
		}
		if d.Height > 0 {
			aspect := d.Width / d.Height
			if aspect < t.params.MinAspect || aspect > t.params.MaxAspect {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// smooth moves each coordinate of old toward new by factor.
func smooth(old, new Box, factor float64) Box {
	return Box{
		X:      old.X + (new.X-old.X)*factor,
		Y:      old.Y + (new.Y-old.Y)*factor,
		Width:  old.Width + (new.Width-old.Width)*factor,
		Height: old.Height + (new.Height-old.Height)*factor,
	}
}
