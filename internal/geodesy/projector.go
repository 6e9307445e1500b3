// Package geodesy converts between SIRGAS2000 geographic coordinates and
// SIRGAS2000 / UTM projected coordinates.
package geodesy

import (
	"fmt"
	"math"

	"github.com/go-spatial/proj/core"
	_ "github.com/go-spatial/proj/operations"
	"github.com/go-spatial/proj/support"
	"github.com/rotisserie/eris"
)

// Projector transforms between geographic (lon, lat in degrees) and
// projected (E, N in meters) coordinates of one fixed CRS pair.
type Projector interface {
	Forward(lon, lat float64) (e, n float64, err error)
	Inverse(e, n float64) (lon, lat float64, err error)
	SRID() int
}

// DefaultZone is the UTM zone used when none is configured.
const DefaultZone = 22

// maxLonOffset bounds the distance from the central meridian (degrees)
// beyond which a point is not projected into the zone.
const maxLonOffset = 12.0

// TransverseMercator implements Projector for one SIRGAS2000 / UTM zone on
// top of the go-spatial/proj utm operation (GRS80 ellipsoid).
type TransverseMercator struct {
	zone  int
	south bool
	lon0  float64 // central meridian, degrees
	def   string
	conv  core.IConvertLPToXY
}

// NewUTM returns a SIRGAS2000 / UTM projector for the given zone and hemisphere.
func NewUTM(zone int, south bool) (*TransverseMercator, error) {
	if zone < 1 || zone > 60 {
		return nil, eris.Errorf("geodesy: invalid UTM zone %d", zone)
	}

	hemi := ""
	if south {
		hemi = " +south"
	}
	// SIRGAS2000 coincides with WGS84 at survey precision, so no datum shift is applied.
	def := fmt.Sprintf("+proj=utm +zone=%d%s +ellps=GRS80 +towgs84=0,0,0 +units=m +no_defs", zone, hemi)

	ps, err := support.NewProjString(def)
	if err != nil {
		return nil, eris.Wrapf(err, "geodesy: parse %q", def)
	}
	_, op, err := core.NewSystem(ps)
	if err != nil {
		return nil, eris.Wrapf(err, "geodesy: build %q", def)
	}
	conv, ok := op.(core.IConvertLPToXY)
	if !ok {
		return nil, eris.Errorf("geodesy: %q is not a lon/lat to x/y conversion", def)
	}

	return &TransverseMercator{
		zone:  zone,
		south: south,
		lon0:  float64(6*zone - 183),
		def:   def,
		conv:  conv,
	}, nil
}

// MustUTM is NewUTM for zones known to be valid at compile time.
func MustUTM(zone int, south bool) *TransverseMercator {
	tm, err := NewUTM(zone, south)
	if err != nil {
		panic(err)
	}
	return tm
}

// Zone returns the UTM zone number.
func (t *TransverseMercator) Zone() int { return t.zone }

// South reports whether the projection uses the southern false northing.
func (t *TransverseMercator) South() bool { return t.south }

// Definition returns the PROJ string the projector was built from.
func (t *TransverseMercator) Definition() string { return t.def }

// Name is the human-readable CRS name, e.g. "SIRGAS2000 / UTM 22S".
func (t *TransverseMercator) Name() string {
	hemi := "N"
	if t.south {
		hemi = "S"
	}
	return fmt.Sprintf("SIRGAS2000 / UTM %d%s", t.zone, hemi)
}

// SRID returns the EPSG code of the SIRGAS2000 / UTM CRS, or 0 when the
// zone has no SIRGAS2000 definition.
func (t *TransverseMercator) SRID() int {
	switch {
	case t.south && t.zone >= 17 && t.zone <= 25:
		return 31960 + t.zone // 31977 (17S) .. 31985 (25S)
	case !t.south && t.zone >= 17 && t.zone <= 22:
		return 31954 + t.zone // 31971 (17N) .. 31976 (22N)
	}
	return 0
}

// Forward projects a geographic coordinate to E/N meters.
func (t *TransverseMercator) Forward(lon, lat float64) (float64, float64, error) {
	if !finite(lon) || !finite(lat) {
		return 0, 0, eris.New("geodesy: non-finite geographic coordinate")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, eris.Errorf("geodesy: coordinate out of range (lon=%f, lat=%f)", lon, lat)
	}
	if math.Abs(lon-t.lon0) > maxLonOffset {
		return 0, 0, eris.Errorf("geodesy: longitude %f too far from zone %d central meridian", lon, t.zone)
	}

	xy, err := t.conv.Forward(&core.CoordLP{Lam: support.DDToR(lon), Phi: support.DDToR(lat)})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "geodesy: forward (lon=%f, lat=%f)", lon, lat)
	}
	if !finite(xy.X) || !finite(xy.Y) {
		return 0, 0, eris.Errorf("geodesy: projection diverged (lon=%f, lat=%f)", lon, lat)
	}
	return xy.X, xy.Y, nil
}

// Inverse converts E/N meters back to a geographic coordinate.
func (t *TransverseMercator) Inverse(e, n float64) (float64, float64, error) {
	if !finite(e) || !finite(n) {
		return 0, 0, eris.New("geodesy: non-finite projected coordinate")
	}

	lp, err := t.conv.Inverse(&core.CoordXY{X: e, Y: n})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "geodesy: inverse (e=%f, n=%f)", e, n)
	}

	lon, lat := support.RToDD(lp.Lam), support.RToDD(lp.Phi)
	if !finite(lon) || !finite(lat) || lat < -90 || lat > 90 {
		return 0, 0, eris.Errorf("geodesy: inverse projection failed (e=%f, n=%f)", e, n)
	}
	return lon, lat, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
