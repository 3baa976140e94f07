package archive

// Bounds is an inclusive latitude/longitude box in decimal degrees.
type Bounds struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

// AustralianBounds covers mainland Australia and Tasmania.
var AustralianBounds = Bounds{MinLat: -43.7, MaxLat: -10.0, MinLon: 112.0, MaxLon: 154.0}

func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ContainsPtr is Contains for optional coordinates; a missing value is outside.
func (b Bounds) ContainsPtr(lat, lon *float64) bool {
	if lat == nil || lon == nil {
		return false
	}
	return b.Contains(*lat, *lon)
}
