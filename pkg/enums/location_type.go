package enums

import "fmt"

// LocationType maps to the location_type enum in Postgres.
type LocationType string

const (
	LocationTypeWarehouse LocationType = "WAREHOUSE"
	LocationTypeStore     LocationType = "STORE"
	LocationTypeDropship  LocationType = "DROPSHIP"
	LocationTypeBuffer    LocationType = "BUFFER"
)

var validLocationTypes = []LocationType{
	LocationTypeWarehouse,
	LocationTypeStore,
	LocationTypeDropship,
	LocationTypeBuffer,
}

// String implements fmt.Stringer.
func (t LocationType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known LocationType.
func (t LocationType) IsValid() bool {
	for _, candidate := range validLocationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsDropship reports whether the location passes stock through an external
// supplier and is therefore exempt from the non-negative invariants.
func (t LocationType) IsDropship() bool {
	return t == LocationTypeDropship
}

// ParseLocationType converts raw input into a LocationType.
func ParseLocationType(value string) (LocationType, error) {
	for _, candidate := range validLocationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid location type %q", value)
}
