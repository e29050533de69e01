package types

import "strings"

// Address is a delivery route point with resolvable coordinates.
// Coordinates follow the carrier convention: [longitude, latitude].
type Address struct {
	Fullname    string    `json:"fullname"`
	Coordinates []float64 `json:"coordinates"`
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Street      string    `json:"street,omitempty"`
}

// HasCoordinates reports whether the address carries a resolvable lon/lat pair.
func (a Address) HasCoordinates() bool {
	if len(a.Coordinates) != 2 {
		return false
	}
	return a.Coordinates[0] != 0 || a.Coordinates[1] != 0
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Fullname) == "" && len(a.Coordinates) == 0
}
