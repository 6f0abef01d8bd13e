package rewards

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
)

// rewardPrecision scales the reward-per-share accumulator.
var rewardPrecision = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(36))

type program struct {
	id        uint64
	name      string
	tokenID   string
	amount    domain.Amount
	start     uint64
	end       uint64
	stoppedAt *uint64

	rewardPerShare   *uint256.Int
	lastDistribution uint64
	distributed      domain.Amount
	claimed          domain.Amount
}

// accrualEnd is the last instant that earns rewards.
func (p *program) accrualEnd() uint64 {
	if p.stoppedAt != nil && *p.stoppedAt < p.end {
		if *p.stoppedAt < p.start {
			return p.start
		}
		return *p.stoppedAt
	}
	return p.end
}

// emittedAt is the amount released by the program's schedule up to t,
// independent of who was staked. The rate is constant over [start, end].
func (p *program) emittedAt(t uint64) domain.Amount {
	if t <= p.start {
		return domain.ZeroAmount()
	}
	if t > p.accrualEnd() {
		t = p.accrualEnd()
	}
	emitted, err := p.amount.MulDiv(domain.AmountFromUint64(t-p.start), domain.AmountFromUint64(p.end-p.start))
	if err != nil {
		// elapsed <= duration, so the result never exceeds amount.
		panic(err)
	}
	return emitted
}

// rewardPerShareAt projects the accumulator to time t assuming total stayed
// staked since the last distribution.
func (p *program) rewardPerShareAt(t uint64, total domain.Amount) (*uint256.Int, domain.Amount) {
	rps := new(uint256.Int).Set(p.rewardPerShare)
	if t <= p.lastDistribution || total.IsZero() {
		return rps, domain.ZeroAmount()
	}
	reward := p.emittedAt(t).MustSub(p.emittedAt(p.lastDistribution))
	if reward.IsZero() {
		return rps, reward
	}
	delta, overflow := new(uint256.Int).MulDivOverflow(reward.Uint256(), rewardPrecision, total.Uint256())
	if overflow {
		panic("rewards: reward per share overflow")
	}
	rps.Add(rps, delta)
	return rps, reward
}

func (p *program) distribute(t uint64, total domain.Amount) {
	if t <= p.lastDistribution {
		return
	}
	rps, reward := p.rewardPerShareAt(t, total)
	p.rewardPerShare = rps
	p.distributed = p.distributed.MustAdd(reward)
	p.lastDistribution = t
}

func (p *program) active(now uint64) bool {
	return p.stoppedAt == nil && now >= p.start && now <= p.end && p.claimed.Lt(p.amount)
}

func (p *program) view(now uint64) domain.FarmView {
	return domain.FarmView{
		FarmID:    p.id,
		Name:      p.name,
		TokenID:   p.tokenID,
		Amount:    p.amount,
		StartDate: domain.Timestamp(p.start),
		EndDate:   domain.Timestamp(p.end),
		Active:    p.active(now),
	}
}

type position struct {
	rewardPerSharePaid *uint256.Int
	unclaimed          domain.Amount
}

// Registry holds the reward farms attached to one staking farm. Callers pass
// the user's staked balance and the farm total; the registry keeps no copy of
// balances.
type Registry struct {
	mu        sync.RWMutex
	programs  []*program
	positions map[string]map[uint64]*position
	logger    *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		positions: make(map[string]map[uint64]*position),
		logger:    log,
	}
}

func (r *Registry) CreateFarm(name, tokenID string, amount domain.Amount, start, end uint64) (domain.FarmView, error) {
	if name == "" || tokenID == "" {
		return domain.FarmView{}, fmt.Errorf("%w: name and token are required", domain.ErrInvalidFarm)
	}
	if start >= end {
		return domain.FarmView{}, fmt.Errorf("%w: start_date %d must be before end_date %d", domain.ErrInvalidFarm, start, end)
	}
	if amount.IsZero() {
		return domain.FarmView{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidFarm)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &program{
		id:               uint64(len(r.programs)),
		name:             name,
		tokenID:          tokenID,
		amount:           amount,
		start:            start,
		end:              end,
		rewardPerShare:   new(uint256.Int),
		lastDistribution: start,
	}
	r.programs = append(r.programs, p)

	r.logger.Infow("Reward farm created",
		"farm_id", p.id,
		"name", name,
		"token_id", tokenID,
		"amount", amount,
		"start_date", start,
		"end_date", end,
	)
	return p.view(start), nil
}

func (r *Registry) program(farmID uint64) (*program, error) {
	if farmID >= uint64(len(r.programs)) {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownFarm, farmID)
	}
	return r.programs[farmID], nil
}

func (r *Registry) position(user string, farmID uint64) *position {
	byFarm, ok := r.positions[user]
	if !ok {
		byFarm = make(map[uint64]*position)
		r.positions[user] = byFarm
	}
	pos, ok := byFarm[farmID]
	if !ok {
		pos = &position{rewardPerSharePaid: new(uint256.Int)}
		byFarm[farmID] = pos
	}
	return pos
}

func earned(staked domain.Amount, rps, paid *uint256.Int) domain.Amount {
	delta := new(uint256.Int).Sub(rps, paid)
	out, overflow := new(uint256.Int).MulDivOverflow(staked.Uint256(), delta, rewardPrecision)
	if overflow {
		panic("rewards: earned overflow")
	}
	amount, err := domain.AmountFromUint256(out)
	if err != nil {
		panic(err)
	}
	return amount
}

func (r *Registry) settleLocked(user string, staked, total domain.Amount, now uint64) {
	for _, p := range r.programs {
		p.distribute(now, total)
		pos := r.position(user, p.id)
		pos.unclaimed = pos.unclaimed.MustAdd(earned(staked, p.rewardPerShare, pos.rewardPerSharePaid))
		pos.rewardPerSharePaid.Set(p.rewardPerShare)
	}
}

// Settle credits the user with everything accrued up to now. The staking farm
// calls it before any change to the user's staked balance.
func (r *Registry) Settle(user string, staked, total domain.Amount, now uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleLocked(user, staked, total, now)
}

// Accrue returns the user's unclaimed reward in farmID at time at without
// changing any state.
func (r *Registry) Accrue(user string, farmID uint64, staked, total domain.Amount, at uint64) (domain.Amount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, err := r.program(farmID)
	if err != nil {
		return domain.Amount{}, err
	}

	unclaimed := domain.ZeroAmount()
	paid := new(uint256.Int)
	if byFarm, ok := r.positions[user]; ok {
		if pos, ok := byFarm[farmID]; ok {
			unclaimed = pos.unclaimed
			paid = pos.rewardPerSharePaid
		}
	}

	rps, _ := p.rewardPerShareAt(at, total)
	return unclaimed.MustAdd(earned(staked, rps, paid)), nil
}

// Claim pays out the user's unclaimed reward in farmID. The payout goes to
// delegatorID when claiming on behalf of a delegated relationship.
func (r *Registry) Claim(user string, farmID uint64, tokenID, delegatorID string, staked, total domain.Amount, now uint64) (domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.program(farmID)
	if err != nil {
		return domain.Payout{}, err
	}
	if tokenID != "" && tokenID != p.tokenID {
		return domain.Payout{}, fmt.Errorf("%w: farm %d pays %s, not %s", domain.ErrTokenMismatch, farmID, p.tokenID, tokenID)
	}

	r.settleLocked(user, staked, total, now)
	pos := r.position(user, farmID)
	if pos.unclaimed.IsZero() {
		return domain.Payout{}, fmt.Errorf("%w: farm %d", domain.ErrNothingToClaim, farmID)
	}

	payout := domain.Payout{Receiver: receiver(user, delegatorID), TokenID: p.tokenID, Amount: pos.unclaimed}
	p.claimed = p.claimed.MustAdd(pos.unclaimed)
	pos.unclaimed = domain.ZeroAmount()

	metrics.RecordRewardClaim(p.tokenID)
	r.logger.Infow("Reward claimed", "account_id", user, "receiver", payout.Receiver, "farm_id", farmID, "amount", payout.Amount)
	return payout, nil
}

// ClaimAll claims every farm paying tokenID and returns one payout per farm
// with a positive balance.
func (r *Registry) ClaimAll(user, tokenID, delegatorID string, staked, total domain.Amount, now uint64) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settleLocked(user, staked, total, now)

	var payouts []domain.Payout
	found := false
	for _, p := range r.programs {
		if p.tokenID != tokenID {
			continue
		}
		found = true
		pos := r.position(user, p.id)
		if pos.unclaimed.IsZero() {
			continue
		}
		payouts = append(payouts, domain.Payout{Receiver: receiver(user, delegatorID), TokenID: tokenID, Amount: pos.unclaimed})
		p.claimed = p.claimed.MustAdd(pos.unclaimed)
		pos.unclaimed = domain.ZeroAmount()
		metrics.RecordRewardClaim(tokenID)
	}

	if !found {
		return nil, fmt.Errorf("%w: no farm pays %s", domain.ErrUnknownFarm, tokenID)
	}
	if len(payouts) == 0 {
		return nil, fmt.Errorf("%w: token %s", domain.ErrNothingToClaim, tokenID)
	}

	r.logger.Infow("Rewards claimed", "account_id", user, "token_id", tokenID, "farms", len(payouts))
	return payouts, nil
}

// StopFarm ends accrual at now. Rewards accrued so far stay claimable.
func (r *Registry) StopFarm(farmID uint64, total domain.Amount, now uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.program(farmID)
	if err != nil {
		return err
	}
	if p.stoppedAt != nil {
		return nil
	}
	p.distribute(now, total)
	stoppedAt := now
	p.stoppedAt = &stoppedAt

	r.logger.Infow("Reward farm stopped", "farm_id", farmID, "stopped_at", now, "distributed", p.distributed)
	return nil
}

func (r *Registry) Farm(farmID uint64, now uint64) (domain.FarmView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, err := r.program(farmID)
	if err != nil {
		return domain.FarmView{}, err
	}
	return p.view(now), nil
}

func (r *Registry) Farms(now uint64) []domain.FarmView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]domain.FarmView, 0, len(r.programs))
	for _, p := range r.programs {
		views = append(views, p.view(now))
	}
	return views
}

func (r *Registry) ActiveFarms(now uint64) []domain.FarmView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]domain.FarmView, 0)
	for _, p := range r.programs {
		if p.active(now) {
			views = append(views, p.view(now))
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].FarmID < views[j].FarmID })
	return views
}

func receiver(user, delegatorID string) string {
	if delegatorID != "" {
		return delegatorID
	}
	return user
}
