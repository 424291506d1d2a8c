package domain

import "strings"

// DefaultAssets is the registry used when no database is configured.
var DefaultAssets = []Asset{
	{Symbol: "BTC", CoinID: "bitcoin", Network: NetworkProofOfWork, MarketRank: 1},
	{Symbol: "ETH", CoinID: "ethereum", Network: NetworkProofOfStake, MarketRank: 2},
	{Symbol: "SOL", CoinID: "solana", Network: NetworkProofOfStake, MarketRank: 5},
	{Symbol: "ADA", CoinID: "cardano", Network: NetworkProofOfStake, MarketRank: 9},
	{Symbol: "DOGE", CoinID: "dogecoin", Network: NetworkProofOfWork, MarketRank: 8},
	{Symbol: "AVAX", CoinID: "avalanche-2", Network: NetworkProofOfStake, MarketRank: 12},
	{Symbol: "DOT", CoinID: "polkadot", Network: NetworkProofOfStake, MarketRank: 20},
	{Symbol: "LTC", CoinID: "litecoin", Network: NetworkProofOfWork, MarketRank: 22},
	{Symbol: "DCR", CoinID: "decred", Network: NetworkHybrid, MarketRank: 160},
}

// CoinIDToSymbol maps registry coin ids back to symbols.
var CoinIDToSymbol map[string]string

func init() {
	CoinIDToSymbol = make(map[string]string, len(DefaultAssets))
	for _, a := range DefaultAssets {
		CoinIDToSymbol[a.CoinID] = a.Symbol
	}
}

// FindDefaultAsset looks up a symbol in the default registry.
func FindDefaultAsset(symbol string) (Asset, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, a := range DefaultAssets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}
