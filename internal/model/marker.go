package model

import (
	"strings"
	"time"
)

// MarkerType distinguishes the SIGEF marker categories.
type MarkerType string

const (
	MarkerTypeVertex MarkerType = "V" // virtual vertex
	MarkerTypeMark   MarkerType = "M" // physical mark
	MarkerTypePoint  MarkerType = "P" // point
)

// InferMarkerType reads the type segment of a SIGEF code such as
// "FHV-M-3403". Codes without a recognizable segment are vertices.
func InferMarkerType(code string) MarkerType {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(code)), "-")
	if len(parts) < 3 {
		return MarkerTypeVertex
	}
	switch MarkerType(parts[len(parts)-2]) {
	case MarkerTypeMark:
		return MarkerTypeMark
	case MarkerTypePoint:
		return MarkerTypePoint
	}
	return MarkerTypeVertex
}

// MarkerStatus is the survey lifecycle state of a persisted marker.
type MarkerStatus string

const (
	MarkerStatusSurveyed MarkerStatus = "SURVEYED"
	MarkerStatusPending  MarkerStatus = "PENDING"
)

// MarkerRecord is a persisted geodesic marker. Validated is tri-state:
// nil means the record has never been through a validation pass.
type MarkerRecord struct {
	ID              int64        `json:"id" yaml:"id"`
	Code            string       `json:"code" yaml:"code"`
	Type            MarkerType   `json:"type" yaml:"type"`
	E               *float64     `json:"coordinate_e" yaml:"coordinate_e"`
	N               *float64     `json:"coordinate_n" yaml:"coordinate_n"`
	Validated       *bool        `json:"validated" yaml:"validated"`
	ValidationError string       `json:"validation_error,omitempty" yaml:"validation_error,omitempty"`
	Status          MarkerStatus `json:"status" yaml:"status"`
	Source          string       `json:"source,omitempty" yaml:"source,omitempty"`
	LonOriginal     *float64     `json:"lon_original,omitempty" yaml:"lon_original,omitempty"`
	LatOriginal     *float64     `json:"lat_original,omitempty" yaml:"lat_original,omitempty"`
	CreatedAt       time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" yaml:"updated_at"`
}

// HasCoordinates reports whether both coordinates are present.
func (m *MarkerRecord) HasCoordinates() bool {
	return m.E != nil && m.N != nil
}

// CorrectionLogEntry is an immutable audit row written by the batch corrector.
type CorrectionLogEntry struct {
	ID        int64     `json:"id" yaml:"id"`
	BatchID   string    `json:"batch_id" yaml:"batch_id"`
	MarkerID  int64     `json:"marker_id" yaml:"marker_id"`
	OldE      float64   `json:"old_e" yaml:"old_e"`
	OldN      float64   `json:"old_n" yaml:"old_n"`
	NewE      float64   `json:"new_e" yaml:"new_e"`
	NewN      float64   `json:"new_n" yaml:"new_n"`
	Reason    string    `json:"reason" yaml:"reason"`
	Operator  string    `json:"operator" yaml:"operator"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
