package domain

// Location is a WGS84 coordinate pair. The zero value is treated as
// "no location" because (0, 0) is open ocean, matching the reference
// data where unset coordinates arrive as zeroes.
type Location struct {
	Lat float64
	Lng float64
}

// Valid reports whether the coordinates are present and in range.
func (l Location) Valid() bool {
	if l.Lat == 0 && l.Lng == 0 {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}
