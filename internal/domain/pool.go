package domain

// ActiveBin is the pool's current price bin as reported by the venue.
type ActiveBin struct {
	BinID int32
	// Price is the bin price in the pool's quote terms.
	Price float64
	// PricePerToken is the price of token X denominated in token Y, adjusted
	// for both tokens' decimals.
	PricePerToken float64
}

// TokenInfo describes one side of a pool.
type TokenInfo struct {
	Mint      string
	Symbol    string
	Decimals  uint8
	Volume24h float64 // USD
	MarketCap float64 // USD
}

// Pool is a trading-pair venue. It is read-only from the keeper's point of
// view; the venue client supplies it.
type Pool struct {
	Address   string
	TokenX    TokenInfo
	TokenY    TokenInfo
	ActiveBin ActiveBin
	BinStep   uint16
}
