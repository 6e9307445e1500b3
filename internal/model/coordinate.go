// Package model holds the value types shared by extraction, normalization and
// the marker store.
package model

// CoordinateKind declares how a coordinate pair is encoded in its source.
type CoordinateKind string

const (
	// KindProjected is a Cartesian pair in meters (E, N).
	KindProjected CoordinateKind = "PROJECTED"
	// KindGeographic is an angular pair in degrees (longitude, latitude).
	KindGeographic CoordinateKind = "GEOGRAPHIC"
)

// Classification is the outcome of validating a coordinate pair.
type Classification string

const (
	ClassProjectedValid     Classification = "PROJECTED_VALID"
	ClassLocalValid         Classification = "LOCAL_VALID"
	ClassGeographicValid    Classification = "GEOGRAPHIC_VALID"
	ClassOutOfRange         Classification = "OUT_OF_RANGE"
	ClassNullValues         Classification = "NULL_VALUES"
	ClassAbsurdValues       Classification = "ABSURD_VALUES"
	ClassGeographicMistaken Classification = "GEOGRAPHIC_MISTAKEN_FOR_PROJECTED"
	ClassConversionFailed   Classification = "CONVERSION_FAILED"
)

// Valid reports whether the classification accepts the pair.
func (c Classification) Valid() bool {
	switch c {
	case ClassProjectedValid, ClassLocalValid, ClassGeographicValid:
		return true
	}
	return false
}
