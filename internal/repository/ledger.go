package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doctorfy/doctorfy/constants"
	"github.com/doctorfy/doctorfy/internal/common"
)

// Transaction is one signed ledger entry. The balance of a user is by
// construction the sum of their transactions.
type Transaction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Delta     decimal.Decimal
	Reason    constants.TxReason
	Reference string
	CreatedAt time.Time
}

type LedgerRepository interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	// Debit conditionally subtracts amount (positive) from the balance and
	// appends a transaction in the same database transaction. Fails with
	// InsufficientCredits when the balance cannot cover the amount; the
	// balance never goes negative.
	Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason constants.TxReason, reference string) (decimal.Decimal, error)
	// Credit adds amount (positive) to the balance, for admin assignments
	// and refunds.
	Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason constants.TxReason, reference string) (decimal.Decimal, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*Transaction, error)
}

type ledgerRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewLedgerRepository(db *DB, logger *slog.Logger) LedgerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ledgerRepo{db: db, logger: logger}
}

func (r *ledgerRepo) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var credits string
	err := r.db.sql.QueryRowContext(ctx, r.db.rebind(
		`SELECT credits FROM users WHERE id = ?`), userID.String()).Scan(&credits)
	if err != nil {
		return decimal.Zero, common.Errorf(common.KindNotFound, "user %s not found", userID)
	}
	bal, err := decimal.NewFromString(credits)
	if err != nil {
		return decimal.Zero, common.NewAppError(common.KindIOFailure, "parsing balance", err)
	}
	return bal, nil
}

func (r *ledgerRepo) Debit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason constants.TxReason, reference string) (decimal.Decimal, error) {
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Zero, common.Errorf(common.KindInvalidInput, "debit amount must be positive")
	}
	newBal, err := r.apply(ctx, userID, amount.Neg(), reason, reference)
	if err != nil {
		return decimal.Zero, err
	}
	r.logger.Info("ledger.debit.ok", "user_id", userID, "amount", amount.String(), "reason", reason, "reference", reference, "balance", newBal.String())
	return newBal, nil
}

func (r *ledgerRepo) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason constants.TxReason, reference string) (decimal.Decimal, error) {
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Zero, common.Errorf(common.KindInvalidInput, "credit amount must be positive")
	}
	newBal, err := r.apply(ctx, userID, amount, reason, reference)
	if err != nil {
		return decimal.Zero, err
	}
	r.logger.Info("ledger.credit.ok", "user_id", userID, "amount", amount.String(), "reason", reason, "reference", reference, "balance", newBal.String())
	return newBal, nil
}

// apply reads the balance under a row lock, guards against overdraft, then
// writes the new balance and the transaction record atomically.
func (r *ledgerRepo) apply(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, reason constants.TxReason, reference string) (decimal.Decimal, error) {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, common.NewAppError(common.KindIOFailure, "starting ledger transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var credits string
	err = tx.QueryRowContext(ctx, r.db.rebind(r.db.forUpdate(
		`SELECT credits FROM users WHERE id = ?`)), userID.String()).Scan(&credits)
	if err != nil {
		return decimal.Zero, common.Errorf(common.KindNotFound, "user %s not found", userID)
	}
	balance, err := decimal.NewFromString(credits)
	if err != nil {
		return decimal.Zero, common.NewAppError(common.KindIOFailure, "parsing balance", err)
	}

	newBalance := balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, common.Errorf(common.KindInsufficientCredits,
			"insufficient credits: balance %s, required %s", balance.String(), delta.Abs().String())
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, r.db.rebind(
		`UPDATE users SET credits = ?, updated_at = ? WHERE id = ?`),
		newBalance.String(), formatTime(now), userID.String()); err != nil {
		return decimal.Zero, common.NewAppError(common.KindIOFailure, "updating balance", err)
	}
	if _, err = tx.ExecContext(ctx, r.db.rebind(
		`INSERT INTO credit_transactions (id, user_id, delta, reason, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), userID.String(), delta.String(), string(reason), reference, formatTime(now)); err != nil {
		return decimal.Zero, common.NewAppError(common.KindIOFailure, "appending transaction", err)
	}
	if err = tx.Commit(); err != nil {
		return decimal.Zero, common.NewAppError(common.KindIOFailure, "committing ledger transaction", err)
	}
	return newBalance, nil
}

func (r *ledgerRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Transaction, error) {
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(
		`SELECT id, user_id, delta, reason, reference, created_at
		 FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC`), userID.String())
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "listing transactions", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var (
			t              Transaction
			idStr, usrStr  string
			delta, created string
			reason         string
		)
		if err := rows.Scan(&idStr, &usrStr, &delta, &reason, &t.Reference, &created); err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "scanning transaction", err)
		}
		if t.ID, err = uuid.Parse(idStr); err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "scanning transaction", err)
		}
		if t.UserID, err = uuid.Parse(usrStr); err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "scanning transaction", err)
		}
		if t.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "scanning transaction", err)
		}
		t.Reason = constants.TxReason(reason)
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, common.NewAppError(common.KindIOFailure, "scanning transaction", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "listing transactions", err)
	}
	return out, nil
}
