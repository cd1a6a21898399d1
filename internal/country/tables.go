package country

import "maps"

// Tables holds the industry classification used for scoring. Keys are
// digit-only industry code prefixes.
type Tables struct {
	High   map[string]int    `json:"high" yaml:"high"`
	Mid    map[string]int    `json:"mid" yaml:"mid"`
	Low    map[string]int    `json:"low" yaml:"low"`
	Assets map[string]string `json:"assets" yaml:"assets"`
}

// Clone returns a deep copy of t.
func (t Tables) Clone() Tables {
	return Tables{
		High:   cloneOrEmpty(t.High),
		Mid:    cloneOrEmpty(t.Mid),
		Low:    cloneOrEmpty(t.Low),
		Assets: cloneOrEmpty(t.Assets),
	}
}

func cloneOrEmpty[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	maps.Copy(out, m)
	return out
}

// DefaultTables returns the NACE Rev.2 tables shared by the Nordic
// plugins. The mid band is empty and only populated through configuration.
func DefaultTables() Tables {
	return Tables{
		High: map[string]int{
			"58":  10, // publishing (incl. software publishing)
			"59":  10, // film, video, music production
			"60":  9,  // broadcasting
			"62":  10, // computer programming
			"63":  9,  // information services, data processing
			"72":  10, // scientific R&D
			"742": 9,  // photography
			"90":  8,  // creative arts
			"91":  7,  // libraries, archives, museums
			"26":  8,  // computer and electronic products
			"71":  7,  // architecture and engineering
			"73":  6,  // advertising and market research
			"85":  6,  // education
		},
		Mid: map[string]int{},
		Low: map[string]int{
			"56": 1, // food and beverage service
			"55": 1, // accommodation
			"45": 1, // motor vehicle trade
			"47": 1, // retail
			"68": 1, // real estate
			"96": 1, // personal services
			"41": 2, // construction of buildings
			"43": 2, // specialised construction
			"64": 2, // financial services
		},
		Assets: map[string]string{
			"58":  "media",
			"59":  "media",
			"60":  "media",
			"62":  "code",
			"63":  "database",
			"72":  "database,sensor",
			"742": "media",
			"90":  "media",
			"91":  "media,database",
			"26":  "code",
			"71":  "cad",
			"73":  "media,database",
			"85":  "media",
		},
	}
}
