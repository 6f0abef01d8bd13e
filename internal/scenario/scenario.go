package scenario

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpDeposit         = "deposit"
	OpDepositAndStake = "deposit_and_stake"
	OpStake           = "stake"
	OpStakeAll        = "stake_all"
	OpUnstake         = "unstake"
	OpUnstakeAll      = "unstake_all"
	OpWithdraw        = "withdraw"
	OpWithdrawAll     = "withdraw_all"
	OpWaitEpochs      = "wait_epochs"
	OpAdvanceBlocks   = "advance_blocks"
	OpCreateFarm      = "create_farm"
	OpClaim           = "claim"
	OpStopFarm        = "stop_farm"
	OpParallel        = "parallel"
)

var (
	ErrInvalidScenario   = errors.New("scenario: invalid")
	ErrExpectationFailed = errors.New("scenario: expectation failed")
	ErrInvariantViolated = errors.New("scenario: invariant violated")
	ErrUnexpectedSuccess = errors.New("scenario: expected error did not occur")
)

// Scenario is a named sequence of steps run against one staking farm.
type Scenario struct {
	Name  string   `yaml:"name"`
	Users []string `yaml:"users"`
	Steps []Step   `yaml:"steps"`
}

// Step is one operation. Amounts are decimal strings in yocto units, or whole
// NEAR with an "N" suffix ("1000 N").
type Step struct {
	Op          string  `yaml:"op"`
	User        string  `yaml:"user,omitempty"`
	Amount      string  `yaml:"amount,omitempty"`
	Epochs      int     `yaml:"epochs,omitempty"`
	Blocks      uint64  `yaml:"blocks,omitempty"`
	Farm        *uint64 `yaml:"farm,omitempty"`
	Name        string  `yaml:"name,omitempty"`
	Token       string  `yaml:"token,omitempty"`
	Delegator   string  `yaml:"delegator,omitempty"`
	Expect      *Expect `yaml:"expect,omitempty"`
	ExpectError string  `yaml:"expect_error,omitempty"`
	Steps       []Step  `yaml:"steps,omitempty"`
}

// Expect holds the balances of the step's user read back after the step.
// Unset fields are not checked.
type Expect struct {
	Staked              string `yaml:"staked,omitempty"`
	Unstaked            string `yaml:"unstaked,omitempty"`
	Total               string `yaml:"total,omitempty"`
	CanWithdraw         *bool  `yaml:"can_withdraw,omitempty"`
	Unclaimed           string `yaml:"unclaimed,omitempty"`
	Claimed             string `yaml:"claimed,omitempty"`
	ContractCanWithdraw *bool  `yaml:"contract_can_withdraw,omitempty"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidScenario, s.Name)
	}
	for i, step := range s.Steps {
		if err := step.validate(false); err != nil {
			return fmt.Errorf("%w: %s step %d: %v", ErrInvalidScenario, s.Name, i+1, err)
		}
	}
	return nil
}

func (st Step) validate(nested bool) error {
	needsUser := func() error {
		if st.User == "" {
			return fmt.Errorf("%s requires user", st.Op)
		}
		return nil
	}
	needsAmount := func() error {
		if err := needsUser(); err != nil {
			return err
		}
		if _, err := ParseAmount(st.Amount); err != nil {
			return fmt.Errorf("%s: %w", st.Op, err)
		}
		return nil
	}

	if st.ExpectError != "" && domain.ErrorFromCode(st.ExpectError) == nil {
		return fmt.Errorf("unknown error code %q", st.ExpectError)
	}

	switch st.Op {
	case OpDeposit, OpDepositAndStake, OpStake, OpUnstake, OpWithdraw:
		return needsAmount()
	case OpStakeAll, OpUnstakeAll, OpWithdrawAll:
		return needsUser()
	case OpClaim:
		if st.Token == "" {
			return errors.New("claim requires token")
		}
		return needsUser()
	case OpWaitEpochs:
		if nested {
			return errors.New("wait_epochs cannot run in parallel")
		}
		if st.Epochs <= 0 {
			return errors.New("wait_epochs requires epochs > 0")
		}
	case OpAdvanceBlocks:
		if nested {
			return errors.New("advance_blocks cannot run in parallel")
		}
		if st.Blocks == 0 {
			return errors.New("advance_blocks requires blocks > 0")
		}
	case OpCreateFarm:
		if st.Token == "" {
			return errors.New("create_farm requires token")
		}
		if _, err := ParseAmount(st.Amount); err != nil {
			return fmt.Errorf("create_farm: %w", err)
		}
	case OpStopFarm:
		if st.Farm == nil {
			return errors.New("stop_farm requires farm")
		}
	case OpParallel:
		if nested {
			return errors.New("parallel steps cannot nest")
		}
		if len(st.Steps) == 0 {
			return errors.New("parallel requires steps")
		}
		for i, sub := range st.Steps {
			if err := sub.validate(true); err != nil {
				return fmt.Errorf("parallel step %d: %w", i+1, err)
			}
		}
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// maxNear is the largest whole NEAR amount that fits in u128.
const maxNear = 340282366920938

// ParseAmount accepts a yocto decimal string or whole NEAR written as
// "<n> N" or "<n> NEAR".
func ParseAmount(s string) (domain.Amount, error) {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{"NEAR", "N"} {
		if strings.HasSuffix(s, suffix) {
			n, err := strconv.ParseUint(strings.TrimSpace(strings.TrimSuffix(s, suffix)), 10, 64)
			if err != nil {
				return domain.Amount{}, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
			}
			if n > maxNear {
				return domain.Amount{}, fmt.Errorf("%w: %q", domain.ErrAmountOverflow, s)
			}
			return domain.Near(n), nil
		}
	}
	return domain.ParseAmount(s)
}

func mustAmount(s string) domain.Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}
