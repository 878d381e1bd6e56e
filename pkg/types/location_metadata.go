package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// LocationMetadata stores operational attributes of a fulfillment location as
// jsonb. Scoring inputs get named fields; anything else round-trips through
// Extra so ops tooling can attach keys this core does not interpret.
type LocationMetadata struct {
	// HandlingScore rates how cheap/fast the location picks and packs, in
	// [0,1]. Nil means neutral.
	HandlingScore *float64
	// AgeScore rates stock freshness at the location, in [0,1]. Nil means
	// neutral.
	AgeScore *float64

	Extra map[string]any
}

const (
	metadataKeyHandling = "handlingScore"
	metadataKeyAge      = "ageScore"
)

// HandlingOrDefault returns the handling score or the provided neutral value.
func (m LocationMetadata) HandlingOrDefault(neutral float64) float64 {
	if m.HandlingScore == nil {
		return neutral
	}
	return *m.HandlingScore
}

// AgeOrDefault returns the age score or the provided neutral value.
func (m LocationMetadata) AgeOrDefault(neutral float64) float64 {
	if m.AgeScore == nil {
		return neutral
	}
	return *m.AgeScore
}

// MarshalJSON flattens named fields and Extra into one object.
func (m LocationMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.HandlingScore != nil {
		out[metadataKeyHandling] = *m.HandlingScore
	}
	if m.AgeScore != nil {
		out[metadataKeyAge] = *m.AgeScore
	}
	return json.Marshal(out)
}

// UnmarshalJSON lifts the known scoring keys out of the object and keeps the
// remainder in Extra.
func (m *LocationMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = LocationMetadata{}
	for k, v := range raw {
		switch k {
		case metadataKeyHandling:
			if f, ok := toFloat(v); ok {
				score := f
				m.HandlingScore = &score
				continue
			}
		case metadataKeyAge:
			if f, ok := toFloat(v); ok {
				score := f
				m.AgeScore = &score
				continue
			}
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return nil
}

// Value implements driver.Valuer for jsonb columns.
func (m LocationMetadata) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for jsonb columns.
func (m *LocationMetadata) Scan(value any) error {
	if value == nil {
		*m = LocationMetadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("location metadata: unsupported scan type %T", value)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
