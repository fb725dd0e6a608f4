package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doctorfy/doctorfy/internal/common"
)

// User is the core view of an account: the credit balance the ledger
// manages plus the demographics the diagnosis prompt uses. Everything else
// about a user is owned elsewhere.
type User struct {
	ID      uuid.UUID
	Credits decimal.Decimal
	Age     *int
	Gender  *string
	Role    string
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, u *User) error
}

type userRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewUserRepository(db *DB, logger *slog.Logger) UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &userRepo{db: db, logger: logger}
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.sql.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, credits, age, gender, role FROM users WHERE id = ?`), id.String())

	var (
		u       User
		idStr   string
		credits string
		age     sql.NullInt64
		gender  sql.NullString
	)
	err := row.Scan(&idStr, &credits, &age, &gender, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.Errorf(common.KindNotFound, "user %s not found", id)
	}
	if err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "loading user", err)
	}
	if u.ID, err = uuid.Parse(idStr); err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "loading user", err)
	}
	if u.Credits, err = decimal.NewFromString(credits); err != nil {
		return nil, common.NewAppError(common.KindIOFailure, "parsing user credits", err)
	}
	if age.Valid {
		a := int(age.Int64)
		u.Age = &a
	}
	if gender.Valid {
		u.Gender = &gender.String
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = "patient"
	}
	now := formatTime(time.Now().UTC())
	var age any
	if u.Age != nil {
		age = *u.Age
	}
	var gender any
	if u.Gender != nil {
		gender = *u.Gender
	}
	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(
		`INSERT INTO users (id, credits, age, gender, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		u.ID.String(), u.Credits.String(), age, gender, u.Role, now, now)
	if err != nil {
		r.logger.Error("user.create_failed", "user_id", u.ID, "error", err)
		return common.NewAppError(common.KindIOFailure, "creating user", err)
	}
	return nil
}
