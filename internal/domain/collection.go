package domain

// Collection identifies one of the known collections of the Trade database.
type Collection int

const (
	Trades Collection = iota
	Countries
	Commodities
	Years
	ImpExp

	collectionCount
)

var collectionNames = [collectionCount]string{
	Trades:      "trades",
	Countries:   "countries",
	Commodities: "commodities",
	Years:       "years",
	ImpExp:      "impexp",
}

// CollectionCount is the number of known collections.
const CollectionCount = int(collectionCount)

func (c Collection) String() string {
	if c < 0 || c >= collectionCount {
		return "unknown"
	}
	return collectionNames[c]
}

// Valid reports whether c is one of the enumerated collections.
func (c Collection) Valid() bool { return c >= 0 && c < collectionCount }

// ParseCollection maps a collection name to its identifier. Names are exact.
func ParseCollection(name string) (Collection, bool) {
	for i, n := range collectionNames {
		if n == name {
			return Collection(i), true
		}
	}
	return 0, false
}

// AllCollections returns every known collection in declaration order.
func AllCollections() []Collection {
	out := make([]Collection, 0, collectionCount)
	for c := Collection(0); c < collectionCount; c++ {
		out = append(out, c)
	}
	return out
}

// MarshalText lets collections appear as names in JSON and YAML.
func (c Collection) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
