package domain

import (
	"fmt"
	"strings"
)

// NetworkClass is the consensus family of an asset. It decides which
// security and staking fields may be populated for it.
type NetworkClass string

const (
	NetworkProofOfWork  NetworkClass = "pow"
	NetworkProofOfStake NetworkClass = "pos"
	NetworkHybrid       NetworkClass = "hybrid"
)

func (c NetworkClass) IsValid() bool {
	switch c {
	case NetworkProofOfWork, NetworkProofOfStake, NetworkHybrid:
		return true
	}
	return false
}

// AllowsWork reports whether proof-of-work fields apply to the class.
func (c NetworkClass) AllowsWork() bool {
	return c == NetworkProofOfWork || c == NetworkHybrid
}

// AllowsStake reports whether proof-of-stake fields apply to the class.
func (c NetworkClass) AllowsStake() bool {
	return c == NetworkProofOfStake || c == NetworkHybrid
}

// ParseNetworkClass accepts the short codes used in the registry as well as
// the spelled-out names.
func ParseNetworkClass(v string) (NetworkClass, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pow", "proof-of-work", "proof_of_work":
		return NetworkProofOfWork, nil
	case "pos", "proof-of-stake", "proof_of_stake":
		return NetworkProofOfStake, nil
	case "hybrid":
		return NetworkHybrid, nil
	}
	return "", fmt.Errorf("unknown network class %q", v)
}

// MarketTier buckets assets by market-cap rank. Tier 1 is the most active.
type MarketTier int

const (
	MarketTier1 MarketTier = 1
	MarketTier2 MarketTier = 2
	MarketTier3 MarketTier = 3
	MarketTier4 MarketTier = 4
)

// Asset is one entry of the asset registry.
type Asset struct {
	Symbol     string       `json:"symbol"`
	CoinID     string       `json:"coin_id"`
	Network    NetworkClass `json:"network_class"`
	MarketRank int          `json:"market_rank"`
}

func (a Asset) Tier() MarketTier {
	switch {
	case a.MarketRank <= 0:
		return MarketTier4
	case a.MarketRank <= 10:
		return MarketTier1
	case a.MarketRank <= 50:
		return MarketTier2
	case a.MarketRank <= 150:
		return MarketTier3
	default:
		return MarketTier4
	}
}

func (a Asset) Validate() error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("asset symbol is required")
	}
	if strings.TrimSpace(a.CoinID) == "" {
		return fmt.Errorf("asset %s: coin id is required", a.Symbol)
	}
	if !a.Network.IsValid() {
		return fmt.Errorf("asset %s: invalid network class %q", a.Symbol, a.Network)
	}
	return nil
}

// SourceTier classifies a live source for quality scoring.
type SourceTier string

const (
	SourceTierPremium SourceTier = "premium"
	SourceTierFree    SourceTier = "free"
)
