package coord

import (
	"math"

	"github.com/sells-group/memorial-cli/internal/model"
)

// absurdLimit is the magnitude beyond which a value cannot be a coordinate.
const absurdLimit = 99_999_999

// Envelope is a rectangular E/N validity range in meters.
type Envelope struct {
	MinE, MaxE float64
	MinN, MaxN float64
}

// Contains reports whether (e, n) lies inside the envelope, bounds included.
func (v Envelope) Contains(e, n float64) bool {
	return e >= v.MinE && e <= v.MaxE && n >= v.MinN && n <= v.MaxN
}

// Box is a geographic validity range in degrees.
type Box struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// Contains reports whether (lon, lat) lies inside the box, bounds included.
func (b Box) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

var (
	// UTM22SEnvelope is the absolute range of SIRGAS2000 / UTM zone 22S. The
	// easting limits hold for every zone; the northing limits are southern.
	UTM22SEnvelope = Envelope{MinE: 166_000, MaxE: 834_000, MinN: 0, MaxN: 10_000_000}

	// OtherZoneEnvelope accepts plausible UTM pairs from neighbouring zones.
	// They are valid but never corrected.
	OtherZoneEnvelope = Envelope{MinE: 100_000, MaxE: 900_000, MinN: 1_000_000, MaxN: 10_000_000}

	// BrazilDegreesBox is Brazil expressed in decimal degrees, used to spot
	// geographic pairs stored as projected ones (e=lon, n=lat).
	BrazilDegreesBox = Box{MinLon: -75, MaxLon: -30, MinLat: -35, MaxLat: 6}

	// BrazilSanityBox bounds reprojected points.
	BrazilSanityBox = Box{MinLon: -74, MaxLon: -34, MinLat: -34, MaxLat: 6}
)

// localGridLimit bounds locally referenced survey coordinates.
const localGridLimit = 100_000

// degreeMagnitude is the limit under which both values look like degrees.
const degreeMagnitude = 1000

// Classifier assigns a Classification to a coordinate pair. The zero value is
// not usable; use NewClassifier.
type Classifier struct {
	// Zone is the absolute envelope of the configured UTM zone.
	Zone Envelope
	// SeparateLocal reports local-grid pairs as LOCAL_VALID instead of
	// PROJECTED_VALID.
	SeparateLocal bool
}

// NewClassifier returns a classifier for SIRGAS2000 / UTM 22S.
func NewClassifier() *Classifier {
	return &Classifier{Zone: UTM22SEnvelope}
}

// Classify classifies (e, n) as declared by kind. For geographic pairs e is
// the longitude and n the latitude.
func (c *Classifier) Classify(e, n float64, kind model.CoordinateKind) model.Classification {
	return c.ClassifyNullable(&e, &n, kind)
}

// ClassifyNullable is Classify for values read from nullable columns; a nil
// value is NULL_VALUES.
func (c *Classifier) ClassifyNullable(e, n *float64, kind model.CoordinateKind) model.Classification {
	if e == nil || n == nil || *e == 0 || *n == 0 {
		return model.ClassNullValues
	}
	ev, nv := *e, *n
	if !finite(ev) || !finite(nv) || math.Abs(ev) > absurdLimit || math.Abs(nv) > absurdLimit {
		return model.ClassAbsurdValues
	}

	if kind == model.KindGeographic {
		if nv >= -90 && nv <= 90 && ev >= -180 && ev <= 180 {
			return model.ClassGeographicValid
		}
		return model.ClassOutOfRange
	}

	if math.Abs(ev) < degreeMagnitude && math.Abs(nv) < degreeMagnitude {
		return model.ClassGeographicMistaken
	}
	if BrazilDegreesBox.Contains(ev, nv) {
		return model.ClassGeographicMistaken
	}

	switch {
	case c.Zone.Contains(ev, nv):
		return model.ClassProjectedValid
	case ev < localGridLimit && nv < localGridLimit:
		if c.SeparateLocal {
			return model.ClassLocalValid
		}
		return model.ClassProjectedValid
	case OtherZoneEnvelope.Contains(ev, nv):
		return model.ClassProjectedValid
	}
	return model.ClassOutOfRange
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
