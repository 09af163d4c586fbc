package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/znz-systems/threadline/internal/models"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) CreateAccount(ctx context.Context, name string) (*models.Account, error) {
	a := &models.Account{
		PublicID: uuid.New(),
		Name:     name,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (public_id, name)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		a.PublicID, a.Name,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AccountStore) AddAccountAddress(ctx context.Context, accountID int64, address string) (*models.AccountAddress, error) {
	aa := &models.AccountAddress{
		AccountID: accountID,
		Address:   strings.ToLower(strings.TrimSpace(address)),
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO account_addresses (account_id, address)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		aa.AccountID, aa.Address,
	).Scan(&aa.ID, &aa.CreatedAt)
	if err != nil {
		return nil, err
	}
	return aa, nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	a := &models.Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, name, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.PublicID, &a.Name, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AccountStore) GetAccountByAddress(ctx context.Context, address string) (*models.Account, error) {
	a := &models.Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.public_id, a.name, a.created_at
		 FROM accounts a
		 JOIN account_addresses aa ON aa.account_id = a.id
		 WHERE aa.address = $1`,
		strings.ToLower(strings.TrimSpace(address)),
	).Scan(&a.ID, &a.PublicID, &a.Name, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}
