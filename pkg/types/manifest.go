package types

// ItemSize holds package dimensions in meters.
type ItemSize struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ManifestItem describes one shippable line of an order.
type ManifestItem struct {
	Quantity int      `json:"quantity"`
	WeightKG float64  `json:"weight"`
	Size     ItemSize `json:"size"`
}

// Degenerate reports whether any dimension is non-positive.
func (s ItemSize) Degenerate() bool {
	return s.Length <= 0 || s.Width <= 0 || s.Height <= 0
}
