package domain

// Contract methods accepted by the staking farm.
const (
	MethodDeposit         = "deposit"
	MethodDepositAndStake = "deposit_and_stake"
	MethodStake           = "stake"
	MethodStakeAll        = "stake_all"
	MethodUnstake         = "unstake"
	MethodUnstakeAll      = "unstake_all"
	MethodWithdraw        = "withdraw"
	MethodWithdrawAll     = "withdraw_all"
	MethodClaim           = "claim"
	MethodStopFarm        = "stop_farm"
	MethodFtOnTransfer    = "ft_on_transfer"
)

// Read-only queries. The account balance views are served by both the farm
// and the validator.
const (
	ViewGetAccount                        = "get_account"
	ViewGetAccountStakedBalance           = "get_account_staked_balance"
	ViewGetAccountUnstakedBalance         = "get_account_unstaked_balance"
	ViewGetAccountTotalBalance            = "get_account_total_balance"
	ViewGetAccounts                       = "get_accounts"
	ViewGetNumberOfAccounts               = "get_number_of_accounts"
	ViewIsAccountUnstakedBalanceAvailable = "is_account_unstaked_balance_available"
	ViewGetTotalStakedBalance             = "get_total_staked_balance"
	ViewGetPoolSummary                    = "get_pool_summary"
	ViewIsContractCanWithdraw             = "is_contract_can_withdraw"
	ViewGetActiveFarms                    = "get_active_farms"
	ViewGetFarms                          = "get_farms"
	ViewGetFarm                           = "get_farm"
	ViewGetUnclaimedReward                = "get_unclaimed_reward"
)

type AmountArgs struct {
	Amount Amount `json:"amount"`
}

type AccountArgs struct {
	AccountID string `json:"account_id"`
}

type AccountsArgs struct {
	FromIndex uint64 `json:"from_index"`
	Limit     uint64 `json:"limit"`
}

type FarmArgs struct {
	FarmID uint64 `json:"farm_id"`
}

type UnclaimedRewardArgs struct {
	AccountID string `json:"account_id"`
	FarmID    uint64 `json:"farm_id"`
}

// ClaimArgs claims one farm when FarmID is set, otherwise every farm paying
// TokenID.
type ClaimArgs struct {
	TokenID     string  `json:"token_id"`
	DelegatorID string  `json:"delegator_id,omitempty"`
	FarmID      *uint64 `json:"farm_id,omitempty"`
}

// TokenTransferArgs is delivered to the farm by a token contract when the
// owner funds a reward farm.
type TokenTransferArgs struct {
	SenderID string `json:"sender_id"`
	Amount   Amount `json:"amount"`
	Msg      string `json:"msg"`
}
