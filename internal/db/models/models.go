package models

// Roles carried in users.role and in token claims.
const (
	RoleAdmin    = "ADMIN"
	RoleEmployee = "EMPLOYEE"
)

// Work location types accepted on start-day.
const (
	LocationOffice = "office"
	LocationRemote = "remote"
	LocationField  = "field"
)

// ValidLocationType reports whether t is a known work location type.
func ValidLocationType(t string) bool {
	switch t {
	case LocationOffice, LocationRemote, LocationField:
		return true
	}
	return false
}
