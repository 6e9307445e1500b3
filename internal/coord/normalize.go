package coord

import (
	"fmt"

	"github.com/sells-group/memorial-cli/internal/geodesy"
	"github.com/sells-group/memorial-cli/internal/model"
)

// ParseError reports a token that could not be read as a coordinate value.
type ParseError struct {
	Kind  model.SkipKind
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Kind, e.Token, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Point is a canonical projected coordinate with its classification.
// Lon/Lat are set only when the point was derived from geographic input.
type Point struct {
	E, N   float64
	Lon    *float64
	Lat    *float64
	Class  model.Classification
	Detail string
}

// Normalizer turns raw coordinate tokens into canonical projected points.
type Normalizer struct {
	proj   geodesy.Projector
	cls    *Classifier
	format NumberFormat
}

// NewNormalizer creates a Normalizer. A nil classifier uses NewClassifier.
func NewNormalizer(proj geodesy.Projector, cls *Classifier, format NumberFormat) *Normalizer {
	if cls == nil {
		cls = NewClassifier()
	}
	if format == "" {
		format = FormatAuto
	}
	return &Normalizer{proj: proj, cls: cls, format: format}
}

// Classifier returns the classifier used by the normalizer.
func (z *Normalizer) Classifier() *Classifier { return z.cls }

// Projector returns the projection used for reprojection.
func (z *Normalizer) Projector() geodesy.Projector { return z.proj }

// Format returns the number format hint applied to projected tokens.
func (z *Normalizer) Format() NumberFormat { return z.format }

// Projected parses an E/N token pair.
func (z *Normalizer) Projected(eTok, nTok string) (Point, error) {
	e, err := ParseNumber(eTok, z.format)
	if err != nil {
		return Point{}, &ParseError{Kind: model.SkipNumberParse, Token: eTok, Err: err}
	}
	n, err := ParseNumber(nTok, z.format)
	if err != nil {
		return Point{}, &ParseError{Kind: model.SkipNumberParse, Token: nTok, Err: err}
	}
	return Point{E: e, N: n, Class: z.cls.Classify(e, n, model.KindProjected)}, nil
}

// Geographic parses a longitude/latitude DMS token pair and reprojects it.
func (z *Normalizer) Geographic(lonTok, latTok string) (Point, error) {
	lon, err := ParseDMS(lonTok)
	if err != nil {
		return Point{}, &ParseError{Kind: model.SkipAngleParse, Token: lonTok, Err: err}
	}
	lat, err := ParseDMS(latTok)
	if err != nil {
		return Point{}, &ParseError{Kind: model.SkipAngleParse, Token: latTok, Err: err}
	}

	if class := z.cls.Classify(lon, lat, model.KindGeographic); !class.Valid() {
		return Point{Lon: &lon, Lat: &lat, Class: class}, nil
	}
	return z.Reproject(lon, lat), nil
}

// Reproject converts a geographic pair to the projected CRS and validates the
// result. A failed transform or a result outside Brazil is CONVERSION_FAILED.
func (z *Normalizer) Reproject(lon, lat float64) Point {
	p := Point{Lon: &lon, Lat: &lat}

	e, n, err := z.proj.Forward(lon, lat)
	if err != nil {
		p.Class = model.ClassConversionFailed
		p.Detail = err.Error()
		return p
	}
	p.E, p.N = e, n

	if detail, ok := z.sane(e, n); !ok {
		p.Class = model.ClassConversionFailed
		p.Detail = detail
		return p
	}
	p.Class = z.cls.Classify(e, n, model.KindProjected)
	return p
}

// sane inverse-projects (e, n) and checks it falls inside Brazil.
func (z *Normalizer) sane(e, n float64) (string, bool) {
	lon, lat, err := z.proj.Inverse(e, n)
	if err != nil {
		return err.Error(), false
	}
	if !BrazilSanityBox.Contains(lon, lat) {
		return fmt.Sprintf("reprojected point (lon=%.6f, lat=%.6f) outside Brazil", lon, lat), false
	}
	return "", true
}
