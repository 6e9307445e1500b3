package geodesy

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodePoint converts a projected coordinate to EWKB bytes tagged with srid.
func EncodePoint(e, n float64, srid int) ([]byte, error) {
	if !finite(e) || !finite(n) {
		return nil, eris.New("geodesy: encode point: non-finite coordinate")
	}

	p := geom.NewPointFlat(geom.XY, []float64{e, n}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geodesy: encode point")
	}
	return data, nil
}

// DecodePoint parses EWKB point bytes and returns its coordinate and SRID.
func DecodePoint(data []byte) (float64, float64, int, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return 0, 0, 0, eris.Wrap(err, "geodesy: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, 0, eris.Errorf("geodesy: decode point: unexpected geometry %T", g)
	}
	return p.X(), p.Y(), p.SRID(), nil
}
