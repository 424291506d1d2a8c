package estimate

import "onchain-collector/internal/domain"

// stakingProfile is the typical staking shape of a proof-of-stake chain.
type stakingProfile struct {
	yield      float64
	staked     float64
	validators float64
}

var stakingBySymbol = map[string]stakingProfile{
	"ADA":  {yield: 4.5, staked: 72, validators: 3000},
	"ETH":  {yield: 3.2, staked: 28, validators: 1_000_000},
	"SOL":  {yield: 7.0, staked: 65, validators: 1400},
	"DOT":  {yield: 12.0, staked: 52, validators: 297},
	"AVAX": {yield: 7.5, staked: 55, validators: 1500},
	"ATOM": {yield: 16.0, staked: 60, validators: 180},
	"DCR":  {yield: 6.5, staked: 60, validators: 4000},
}

var stakingByClass = map[domain.NetworkClass]stakingProfile{
	domain.NetworkProofOfStake: {yield: 5.0, staked: 55, validators: 500},
	domain.NetworkHybrid:       {yield: 5.0, staked: 50, validators: 1000},
}

// annual supply inflation, percent
var inflationBySymbol = map[string]float64{
	"BTC":  0.84,
	"ETH":  0.5,
	"LTC":  1.6,
	"DOGE": 3.4,
	"ADA":  2.3,
	"SOL":  4.8,
	"DOT":  7.5,
	"AVAX": 4.0,
	"DCR":  3.5,
}

var inflationByClass = map[domain.NetworkClass]float64{
	domain.NetworkProofOfWork:  2.0,
	domain.NetworkProofOfStake: 4.0,
	domain.NetworkHybrid:       3.0,
}

// block interval, seconds
var blockTimeBySymbol = map[string]float64{
	"BTC":  600,
	"ETH":  12,
	"LTC":  150,
	"DOGE": 60,
	"ADA":  20,
	"SOL":  0.4,
	"DOT":  6,
	"AVAX": 2,
	"DCR":  300,
}

var blockTimeByClass = map[domain.NetworkClass]float64{
	domain.NetworkProofOfWork:  600,
	domain.NetworkProofOfStake: 12,
	domain.NetworkHybrid:       300,
}

// daily transactions of a typical asset in each market tier
var dailyTransactionsByTier = map[domain.MarketTier]float64{
	domain.MarketTier1: 500_000,
	domain.MarketTier2: 100_000,
	domain.MarketTier3: 25_000,
	domain.MarketTier4: 5_000,
}
