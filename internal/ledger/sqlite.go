package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the ledger in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ledger database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// One writer keeps SQLite transactions from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			likes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			posts INTEGER NOT NULL DEFAULT 0,
			helpful_marks INTEGER NOT NULL DEFAULT 0,
			validations INTEGER NOT NULL DEFAULT 0,
			reports_received INTEGER NOT NULL DEFAULT 0,
			reports_made INTEGER NOT NULL DEFAULT 0,
			significance_bonus INTEGER NOT NULL DEFAULT 0,
			trust_score INTEGER NOT NULL,
			active INTEGER NOT NULL,
			token_balance TEXT NOT NULL,
			total_earned TEXT NOT NULL,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			average_significance INTEGER NOT NULL DEFAULT 0,
			registered_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewards (
			account_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			base_amount TEXT NOT NULL,
			significance INTEGER NOT NULL,
			significance_amount TEXT NOT NULL,
			tier TEXT NOT NULL,
			tier_multiplier INTEGER NOT NULL,
			final_amount TEXT NOT NULL,
			band TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (account_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS treasury (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			balance TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: migrate: %w", err)
		}
	}
	return nil
}

// Load reads every account, reward, and the treasury balance.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Rewards: make(map[string][]InteractionReward)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, likes, comments, posts, helpful_marks, validations,
		       reports_received, reports_made, significance_bonus, trust_score, active,
		       token_balance, total_earned, interaction_count, average_significance,
		       registered_at, updated_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		snap.Accounts = append(snap.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT account_id, seq, kind, base_amount, significance, significance_amount,
		       tier, tier_multiplier, final_amount, band, created_at
		FROM rewards ORDER BY account_id, seq`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		snap.Rewards[r.AccountID] = append(snap.Rewards[r.AccountID], r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var balance string
	err = s.db.QueryRowContext(ctx, `SELECT balance FROM treasury WHERE id = 1`).Scan(&balance)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		if err := snap.Treasury.SetFromDecimal(balance); err != nil {
			return nil, fmt.Errorf("ledger: corrupt treasury balance %q: %w", balance, err)
		}
	}
	return snap, nil
}

// SaveAccounts upserts accounts in one transaction.
func (s *SQLiteStore) SaveAccounts(ctx context.Context, accounts ...Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range accounts {
		if err := upsertAccount(ctx, tx, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveReward writes the account, its new reward record, and the treasury
// balance in one transaction.
func (s *SQLiteStore) SaveReward(ctx context.Context, account Account, reward InteractionReward, treasury *uint256.Int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertAccount(ctx, tx, account); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rewards (account_id, seq, kind, base_amount, significance, significance_amount,
		                     tier, tier_multiplier, final_amount, band, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reward.AccountID, int64(reward.Seq), string(reward.Kind), reward.BaseAmount.Dec(),
		int64(reward.Significance), reward.SignificanceAmount.Dec(), reward.Tier,
		int64(reward.TierMultiplier), reward.FinalAmount.Dec(), reward.Band,
		reward.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	if err := upsertTreasury(ctx, tx, treasury); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveTreasury writes the treasury balance.
func (s *SQLiteStore) SaveTreasury(ctx context.Context, treasury *uint256.Int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTreasury(ctx, tx, treasury); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func upsertAccount(ctx context.Context, tx *sql.Tx, a Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, likes, comments, posts, helpful_marks, validations,
		                      reports_received, reports_made, significance_bonus, trust_score, active,
		                      token_balance, total_earned, interaction_count, average_significance,
		                      registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			likes = excluded.likes,
			comments = excluded.comments,
			posts = excluded.posts,
			helpful_marks = excluded.helpful_marks,
			validations = excluded.validations,
			reports_received = excluded.reports_received,
			reports_made = excluded.reports_made,
			significance_bonus = excluded.significance_bonus,
			trust_score = excluded.trust_score,
			active = excluded.active,
			token_balance = excluded.token_balance,
			total_earned = excluded.total_earned,
			interaction_count = excluded.interaction_count,
			average_significance = excluded.average_significance,
			updated_at = excluded.updated_at`,
		a.ID, a.DisplayName,
		int64(a.Counters.Likes), int64(a.Counters.Comments), int64(a.Counters.Posts),
		int64(a.Counters.HelpfulMarks), int64(a.Counters.Validations),
		int64(a.Counters.ReportsReceived), int64(a.Counters.ReportsMade),
		int64(a.SignificanceBonus), a.TrustScore, a.Active,
		a.TokenBalance.Dec(), a.TotalTokensEarned.Dec(),
		int64(a.InteractionCount), int64(a.AverageSignificance),
		a.RegisteredAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.ID, err)
	}
	return nil
}

func upsertTreasury(ctx context.Context, tx *sql.Tx, treasury *uint256.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO treasury (id, balance) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET balance = excluded.balance`, treasury.Dec())
	if err != nil {
		return fmt.Errorf("upsert treasury: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var (
		a                                    Account
		likes, comments, posts, helpful      int64
		validations, received, made, bonus   int64
		count, avg                           int64
		balance, earned, registered, updated string
	)
	err := row.Scan(&a.ID, &a.DisplayName, &likes, &comments, &posts, &helpful, &validations,
		&received, &made, &bonus, &a.TrustScore, &a.Active, &balance, &earned, &count, &avg,
		&registered, &updated)
	if err != nil {
		return Account{}, err
	}
	a.Counters = Counters{
		Likes:           uint64(likes),
		Comments:        uint64(comments),
		Posts:           uint64(posts),
		HelpfulMarks:    uint64(helpful),
		Validations:     uint64(validations),
		ReportsReceived: uint64(received),
		ReportsMade:     uint64(made),
	}
	a.SignificanceBonus = uint64(bonus)
	a.InteractionCount = uint64(count)
	a.AverageSignificance = uint64(avg)
	if err := a.TokenBalance.SetFromDecimal(balance); err != nil {
		return Account{}, fmt.Errorf("account %s: token balance: %w", a.ID, err)
	}
	if err := a.TotalTokensEarned.SetFromDecimal(earned); err != nil {
		return Account{}, fmt.Errorf("account %s: total earned: %w", a.ID, err)
	}
	a.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registered)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return a, nil
}

func scanReward(row scanner) (InteractionReward, error) {
	var (
		r                         InteractionReward
		seq, sig, mult            int64
		kind, base, sigAmt, final string
		created                   string
	)
	err := row.Scan(&r.AccountID, &seq, &kind, &base, &sig, &sigAmt, &r.Tier, &mult, &final, &r.Band, &created)
	if err != nil {
		return InteractionReward{}, err
	}
	r.Seq = uint64(seq)
	r.Kind = InteractionKind(kind)
	r.Significance = uint64(sig)
	r.TierMultiplier = uint64(mult)
	for _, f := range []struct {
		dst *uint256.Int
		src string
	}{{&r.BaseAmount, base}, {&r.SignificanceAmount, sigAmt}, {&r.FinalAmount, final}} {
		if err := f.dst.SetFromDecimal(f.src); err != nil {
			return InteractionReward{}, fmt.Errorf("reward %s/%d: %w", r.AccountID, r.Seq, err)
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return r, nil
}
