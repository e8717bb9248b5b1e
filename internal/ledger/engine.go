package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// Engine owns authoritative account state and token accounting.
//
// Mutations to one account are serialized by that account's mutex; the
// treasury mutex is always taken after an account mutex. Each mutation is
// applied to a copy, persisted, and only then committed to memory, so a
// failed write leaves no partial update behind.
type Engine struct {
	mu       sync.RWMutex // guards the accounts map, not the entries
	accounts map[string]*entry

	regMu sync.Mutex // serializes Register

	treasuryMu sync.Mutex
	treasury   uint256.Int

	store Store
	now   func() time.Time
}

type entry struct {
	mu      sync.Mutex
	account Account
	rewards []InteractionReward
}

// NewEngine creates an engine backed by store. A nil store keeps state in
// memory only. Existing state is loaded from the store.
func NewEngine(ctx context.Context, store Store) (*Engine, error) {
	e := &Engine{
		accounts: make(map[string]*entry),
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if store == nil {
		return e, nil
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load state: %w", err)
	}
	for _, a := range snap.Accounts {
		e.accounts[a.ID] = &entry{account: a, rewards: snap.Rewards[a.ID]}
	}
	e.treasury = snap.Treasury
	return e, nil
}

// Register creates an account with trust score 100 and zero balances.
// Registering a deactivated account reactivates it with fresh counters and
// trust score; its token balance and reward history are kept.
func (e *Engine) Register(ctx context.Context, id, displayName string) (Account, error) {
	id = NormalizeID(id)
	if id == "" {
		return Account{}, ErrInvalidAccount
	}

	// regMu orders registrations; e.mu is only held for the map insert so
	// lookups never wait on the store.
	e.regMu.Lock()
	defer e.regMu.Unlock()

	now := e.now()
	if ent, err := e.lookup(id); err == nil {
		ent.mu.Lock()
		defer ent.mu.Unlock()
		if ent.account.Active {
			return Account{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
		}
		next := ent.account
		next.DisplayName = displayName
		next.Counters = Counters{}
		next.SignificanceBonus = 0
		next.InteractionCount = 0
		next.AverageSignificance = 0
		next.TrustScore = ComputeTrustScore(Counters{}, 0)
		next.Active = true
		next.UpdatedAt = now
		if err := e.persist(ctx, next); err != nil {
			return Account{}, err
		}
		ent.account = next
		return next, nil
	}

	acct := Account{
		ID:           id,
		DisplayName:  displayName,
		TrustScore:   ComputeTrustScore(Counters{}, 0),
		Active:       true,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := e.persist(ctx, acct); err != nil {
		return Account{}, err
	}
	e.mu.Lock()
	e.accounts[id] = &entry{account: acct}
	e.mu.Unlock()
	return acct, nil
}

// RecordInteraction adds weight occurrences of kind to the account's
// counters and returns the recomputed trust score.
func (e *Engine) RecordInteraction(ctx context.Context, id string, kind InteractionKind, weight uint64) (int, error) {
	if _, ok := counterWeights[kind]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInteraction, kind)
	}
	if weight == 0 {
		weight = 1
	}

	acct, err := e.mutate(ctx, id, func(a *Account) error {
		if err := a.Counters.add(kind, weight); err != nil {
			return err
		}
		a.TrustScore = ComputeTrustScore(a.Counters, a.SignificanceBonus)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return acct.TrustScore, nil
}

// Report records that reporter flagged reported. Both accounts must be
// active. Returns the reported account's new trust score.
func (e *Engine) Report(ctx context.Context, reporterID, reportedID string) (int, error) {
	reporterID, reportedID = NormalizeID(reporterID), NormalizeID(reportedID)
	if reporterID == reportedID {
		return 0, ErrSelfReport
	}

	first, err := e.lookup(reporterID)
	if err != nil {
		return 0, err
	}
	second, err := e.lookup(reportedID)
	if err != nil {
		return 0, err
	}

	// Lock in id order so concurrent cross reports cannot deadlock.
	locks := []*entry{first, second}
	if reportedID < reporterID {
		locks[0], locks[1] = second, first
	}
	for _, l := range locks {
		l.mu.Lock()
		defer l.mu.Unlock()
	}

	if !first.account.Active || !second.account.Active {
		return 0, ErrInactive
	}

	now := e.now()
	reporter := first.account
	reporter.Counters.ReportsMade++
	reporter.UpdatedAt = now

	reported := second.account
	reported.Counters.ReportsReceived++
	reported.TrustScore = ComputeTrustScore(reported.Counters, reported.SignificanceBonus)
	reported.UpdatedAt = now

	if err := e.persist(ctx, reporter, reported); err != nil {
		return 0, err
	}
	first.account = reporter
	second.account = reported
	return reported.TrustScore, nil
}

// Deactivate marks an account inactive. Accounts are never deleted.
func (e *Engine) Deactivate(ctx context.Context, id string) error {
	_, err := e.mutate(ctx, id, func(a *Account) error {
		a.Active = false
		return nil
	})
	return err
}

// ApplySignificanceReward pays a reward from the treasury:
//
//	significanceAmount = base × significance / 1000
//	finalAmount        = significanceAmount × tierMultiplier / 1000
//
// The tier is taken from the trust score before the reward. The treasury is
// never minted into; a short treasury fails with ErrInsufficientTreasury.
func (e *Engine) ApplySignificanceReward(ctx context.Context, id string, kind InteractionKind, base *uint256.Int, significance uint64) (InteractionReward, error) {
	boost, ok := maxBoost[kind]
	if !ok {
		return InteractionReward{}, fmt.Errorf("%w: %q", ErrUnknownInteraction, kind)
	}
	if significance > 1000 {
		return InteractionReward{}, ErrInvalidSignificance
	}

	ent, err := e.lookup(id)
	if err != nil {
		return InteractionReward{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !ent.account.Active {
		return InteractionReward{}, fmt.Errorf("%w: %s", ErrInactive, ent.account.ID)
	}

	tier := TierFor(ent.account.TrustScore)
	sigAmount, final, err := rewardAmounts(base, significance, tier.Multiplier)
	if err != nil {
		return InteractionReward{}, err
	}

	e.treasuryMu.Lock()
	defer e.treasuryMu.Unlock()

	if e.treasury.Lt(&final) {
		return InteractionReward{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientTreasury, final.Dec(), e.treasury.Dec())
	}

	next := ent.account
	if _, overflow := next.TokenBalance.AddOverflow(&next.TokenBalance, &final); overflow {
		return InteractionReward{}, ErrOverflow
	}
	if _, overflow := next.TotalTokensEarned.AddOverflow(&next.TotalTokensEarned, &final); overflow {
		return InteractionReward{}, ErrOverflow
	}
	next.InteractionCount++
	n := next.InteractionCount
	next.AverageSignificance = (next.AverageSignificance*(n-1) + significance) / n
	next.SignificanceBonus += boost * significance / 1000
	next.TrustScore = ComputeTrustScore(next.Counters, next.SignificanceBonus)
	now := e.now()
	next.UpdatedAt = now

	var treasury uint256.Int
	treasury.Sub(&e.treasury, &final)

	reward := InteractionReward{
		AccountID:          next.ID,
		Seq:                uint64(len(ent.rewards)) + 1,
		Kind:               kind,
		BaseAmount:         *base,
		Significance:       significance,
		SignificanceAmount: sigAmount,
		Tier:               tier.Name,
		TierMultiplier:     tier.Multiplier,
		FinalAmount:        final,
		Band:               SignificanceBand(significance),
		CreatedAt:          now,
	}

	if e.store != nil {
		if err := e.store.SaveReward(ctx, next, reward, &treasury); err != nil {
			return InteractionReward{}, fmt.Errorf("ledger: persist reward: %w", err)
		}
	}

	ent.account = next
	ent.rewards = append(ent.rewards, reward)
	e.treasury = treasury
	return reward, nil
}

// FundTreasury tops up the shared treasury and returns the new balance.
func (e *Engine) FundTreasury(ctx context.Context, amount *uint256.Int) (uint256.Int, error) {
	e.treasuryMu.Lock()
	defer e.treasuryMu.Unlock()

	var next uint256.Int
	if _, overflow := next.AddOverflow(&e.treasury, amount); overflow {
		return e.treasury, ErrOverflow
	}
	if e.store != nil {
		if err := e.store.SaveTreasury(ctx, &next); err != nil {
			return e.treasury, fmt.Errorf("ledger: persist treasury: %w", err)
		}
	}
	e.treasury = next
	return next, nil
}

// Treasury returns the current treasury balance.
func (e *Engine) Treasury() uint256.Int {
	e.treasuryMu.Lock()
	defer e.treasuryMu.Unlock()
	return e.treasury
}

// Account returns a copy of the account.
func (e *Engine) Account(id string) (Account, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return Account{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.account, nil
}

// Tier returns the account's current tier.
func (e *Engine) Tier(id string) (Tier, error) {
	acct, err := e.Account(id)
	if err != nil {
		return Tier{}, err
	}
	return acct.Tier(), nil
}

// Rewards returns the account's reward history, oldest first.
func (e *Engine) Rewards(id string) ([]InteractionReward, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return append([]InteractionReward(nil), ent.rewards...), nil
}

// Accounts returns every account sorted by id.
func (e *Engine) Accounts() []Account {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Account, 0, len(e.accounts))
	for _, ent := range e.accounts {
		ent.mu.Lock()
		out = append(out, ent.account)
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalCirculating sums the balances of active accounts. O(n).
func (e *Engine) TotalCirculating() uint256.Int {
	var total uint256.Int
	for _, a := range e.Accounts() {
		if a.Active {
			total.Add(&total, &a.TokenBalance)
		}
	}
	return total
}

// GlobalStats aggregates over active accounts with a full scan. If accounts
// are ever sharded these need to become pre-aggregated counters.
func (e *Engine) GlobalStats() Stats {
	var st Stats
	var weighted uint64
	for _, a := range e.Accounts() {
		if !a.Active {
			continue
		}
		st.Accounts++
		st.Circulating.Add(&st.Circulating, &a.TokenBalance)
		st.TotalInteractions += a.InteractionCount
		weighted += a.AverageSignificance * a.InteractionCount
		if a.InteractionCount > 0 {
			st.ActiveParticipants++
		}
	}
	if st.TotalInteractions > 0 {
		st.AverageSignificance = weighted / st.TotalInteractions
	}
	st.Treasury = e.Treasury()
	return st
}

func (e *Engine) lookup(id string) (*entry, error) {
	id = NormalizeID(id)
	e.mu.RLock()
	ent, ok := e.accounts[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ent, nil
}

// mutate applies fn to a copy of an active account, persists it, and commits.
func (e *Engine) mutate(ctx context.Context, id string, fn func(a *Account) error) (Account, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return Account{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !ent.account.Active {
		return Account{}, fmt.Errorf("%w: %s", ErrInactive, ent.account.ID)
	}

	next := ent.account
	if err := fn(&next); err != nil {
		return Account{}, err
	}
	next.UpdatedAt = e.now()

	if err := e.persist(ctx, next); err != nil {
		return Account{}, err
	}
	ent.account = next
	return next, nil
}

func (e *Engine) persist(ctx context.Context, accounts ...Account) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveAccounts(ctx, accounts...); err != nil {
		return fmt.Errorf("ledger: persist account: %w", err)
	}
	return nil
}
