package model

import "fmt"

// StreamKey is the full identity tuple of a stream (spec.md §3). All five
// fields participate in equality; there is no surrogate alias.
type StreamKey struct {
	Symbol      string
	Provider    ProviderID
	AssetClass  AssetClass
	Timeframe   Timeframe
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Symbol, k.Provider, k.AssetClass, k.Timeframe)
}

func (k StreamKey) Validate() error {
	if k.Symbol == "" {
		return fmt.Errorf("stream: symbol is required")
	}
	if k.Provider == "" {
		return fmt.Errorf("stream: provider is required")
	}
	if !k.AssetClass.Valid() {
		return fmt.Errorf("stream: invalid asset_class %q", k.AssetClass)
	}
	return k.Timeframe.Validate()
}
