package scenario

// yes and no are addressable flags for expectations.
var (
	yes = true
	no  = false
)

// DepositStakeUnstakeWithdraw walks one user through the full staking
// lifecycle and checks balances after every operation.
func DepositStakeUnstakeWithdraw(user string) *Scenario {
	return &Scenario{
		Name:  "deposit-stake-unstake-withdraw",
		Users: []string{user},
		Steps: []Step{
			{Op: OpDeposit, User: user, Amount: "1000 N", Expect: &Expect{Staked: "0", Unstaked: "1000 N", Total: "1000 N", CanWithdraw: &yes}},
			{Op: OpStake, User: user, Amount: "200 N", Expect: &Expect{Staked: "200 N", Unstaked: "800 N", CanWithdraw: &yes}},
			{Op: OpStakeAll, User: user, Expect: &Expect{Staked: "1000 N", Unstaked: "0", CanWithdraw: &no}},
			{Op: OpStakeAll, User: user, Expect: &Expect{Staked: "1000 N", Unstaked: "0"}},
			{Op: OpUnstake, User: user, Amount: "100 N", Expect: &Expect{Staked: "900 N", Unstaked: "100 N", CanWithdraw: &no}},
			{Op: OpUnstakeAll, User: user, Expect: &Expect{Staked: "0", Unstaked: "1000 N", CanWithdraw: &no}},
			{Op: OpWithdraw, User: user, Amount: "200 N", ExpectError: "WithdrawalLocked"},
			{Op: OpWaitEpochs, Epochs: 5},
			{Op: OpWithdraw, User: user, Amount: "200 N", Expect: &Expect{Unstaked: "800 N", Total: "800 N", CanWithdraw: &yes, ContractCanWithdraw: &yes}},
			{Op: OpWithdrawAll, User: user, Expect: &Expect{Staked: "0", Unstaked: "0", Total: "0", CanWithdraw: &no}},
		},
	}
}

// RewardFarm funds a farm, lets two stakers accrue and claims on behalf of a
// delegator.
func RewardFarm(alice, bob, token, delegator string) *Scenario {
	farm := uint64(0)
	return &Scenario{
		Name:  "reward-farm",
		Users: []string{alice, bob},
		Steps: []Step{
			{Op: OpParallel, Steps: []Step{
				{Op: OpDepositAndStake, User: alice, Amount: "30 N"},
				{Op: OpDepositAndStake, User: bob, Amount: "10 N"},
			}},
			{Op: OpCreateFarm, Token: token, Name: "reward", Amount: "10000"},
			{Op: OpAdvanceBlocks, Blocks: 53},
			{Op: OpClaim, User: alice, Farm: &farm, Token: token, Delegator: delegator, Expect: &Expect{Claimed: "3750"}},
			{Op: OpClaim, User: alice, Farm: &farm, Token: token, ExpectError: "NothingToClaim"},
			{Op: OpUnstakeAll, User: bob, Farm: &farm, Expect: &Expect{Unclaimed: "1250", CanWithdraw: &no}},
			{Op: OpStopFarm, Farm: &farm},
			{Op: OpAdvanceBlocks, Blocks: 10},
			{Op: OpClaim, User: bob, Token: token, Expect: &Expect{Claimed: "1250"}},
		},
	}
}

// Builtins lists the scenarios shipped with the orchestrator.
func Builtins() []*Scenario {
	return []*Scenario{
		DepositStakeUnstakeWithdraw("alice.test.near"),
		RewardFarm("alice.test.near", "bob.test.near", "token.test.near", "owner.test.near"),
	}
}
