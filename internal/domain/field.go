package domain

// Field names a metric column of the fused record.
type Field string

const (
	FieldActiveAddresses   Field = "active_addresses"
	FieldTransactionCount  Field = "transaction_count"
	FieldTransactionVolume Field = "transaction_volume"
	FieldBlockHeight       Field = "block_height"
	FieldBlockTime         Field = "block_time"

	FieldHashRate   Field = "hash_rate"
	FieldDifficulty Field = "difficulty"

	FieldCirculatingSupply Field = "circulating_supply"
	FieldTotalSupply       Field = "total_supply"
	FieldMaxSupply         Field = "max_supply"
	FieldInflationRate     Field = "inflation_rate"

	FieldMarketCap   Field = "market_cap"
	FieldNVTRatio    Field = "nvt_ratio"
	FieldRealizedCap Field = "realized_cap"
	FieldMVRVRatio   Field = "mvrv_ratio"
	FieldStockToFlow Field = "stock_to_flow"

	FieldDevCommits       Field = "dev_commits"
	FieldDevActivityScore Field = "dev_activity_score"

	FieldStakingYield     Field = "staking_yield"
	FieldStakedPercentage Field = "staked_percentage"
	FieldValidatorCount   Field = "validator_count"

	FieldTVL           Field = "tvl"
	FieldProtocolCount Field = "protocol_count"
)

// AllFields lists every metric column in storage order.
var AllFields = []Field{
	FieldActiveAddresses,
	FieldTransactionCount,
	FieldTransactionVolume,
	FieldBlockHeight,
	FieldBlockTime,
	FieldHashRate,
	FieldDifficulty,
	FieldCirculatingSupply,
	FieldTotalSupply,
	FieldMaxSupply,
	FieldInflationRate,
	FieldMarketCap,
	FieldNVTRatio,
	FieldRealizedCap,
	FieldMVRVRatio,
	FieldStockToFlow,
	FieldDevCommits,
	FieldDevActivityScore,
	FieldStakingYield,
	FieldStakedPercentage,
	FieldValidatorCount,
	FieldTVL,
	FieldProtocolCount,
}

var (
	workFields  = map[Field]bool{FieldHashRate: true, FieldDifficulty: true}
	stakeFields = map[Field]bool{FieldStakingYield: true, FieldStakedPercentage: true, FieldValidatorCount: true}
	knownFields = func() map[Field]bool {
		m := make(map[Field]bool, len(AllFields))
		for _, f := range AllFields {
			m[f] = true
		}
		return m
	}()
)

func (f Field) Known() bool {
	return knownFields[f]
}

// WorkOnly reports whether the field is meaningful only for proof-of-work chains.
func (f Field) WorkOnly() bool { return workFields[f] }

// StakeOnly reports whether the field is meaningful only for proof-of-stake chains.
func (f Field) StakeOnly() bool { return stakeFields[f] }

// AppliesTo reports whether the field may carry a value for the network class.
func (f Field) AppliesTo(class NetworkClass) bool {
	if !f.Known() {
		return false
	}
	if f.WorkOnly() {
		return class.AllowsWork()
	}
	if f.StakeOnly() {
		return class.AllowsStake()
	}
	return true
}

// EstimatorSource is the source id carried by estimated candidates.
const EstimatorSource = "estimator"

// FieldCandidate is one source's proposed value for one field.
type FieldCandidate struct {
	Field      Field
	Value      float64
	Source     string
	IsEstimate bool
}
