package models

// Device is a phone model supported by the update server.
type Device struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	ProductNames []string `json:"product_names"`
	Enabled      bool     `json:"enabled"`
}

// MatchesProduct reports whether the device ships under the given product name.
func (d Device) MatchesProduct(productName string) bool {
	for _, p := range d.ProductNames {
		if p == productName {
			return true
		}
	}
	return false
}

// UpdateMethod is a channel through which a device receives updates (e.g. stable or beta).
type UpdateMethod struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Recommended bool   `json:"recommended"`
}
