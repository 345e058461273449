package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/user"
)

type accountRepository struct {
	db *accountTable
}

var _ user.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *DB) user.Repository {
	return &accountRepository{db: db.account}
}

func (repo *accountRepository) CheckEmailUniqueness(_ context.Context, email string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, acc := range repo.db.table {
		if acc.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *accountRepository) Create(_ context.Context, acc user.Account) (user.Account, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, a := range repo.db.table {
		if a.Email == acc.Email {
			return user.Account{}, user.ErrEmailExists
		}
	}
	a := acc
	repo.db.table[acc.ID] = &a
	return acc, nil
}

func (repo *accountRepository) GetByID(_ context.Context, id string) (user.Account, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if acc, ok := repo.db.table[id]; ok {
		return *acc, nil
	}
	return user.Account{}, user.ErrNotFound
}

func (repo *accountRepository) GetByEmail(_ context.Context, email string) (user.Account, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, acc := range repo.db.table {
		if acc.Email == email {
			return *acc, nil
		}
	}
	return user.Account{}, user.ErrNotFound
}

func (repo *accountRepository) Query(_ context.Context, filter user.QueryFilter) ([]user.Account, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	search := strings.ToLower(filter.Search)
	accounts := make([]user.Account, 0)
	for _, acc := range repo.db.table {
		if search != "" &&
			!(strings.Contains(strings.ToLower(acc.Name), search) || strings.Contains(acc.Email, search)) {
			continue
		}
		if len(filter.Roles) > 0 && !hasRole(filter.Roles, acc.Role) {
			continue
		}
		if len(filter.Statuses) > 0 && !hasAccountStatus(filter.Statuses, acc.Status) {
			continue
		}
		accounts = append(accounts, *acc)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
		}
		return accounts[i].ID > accounts[j].ID
	})
	return accounts, nil
}

func (repo *accountRepository) UpdateStatus(_ context.Context, id string, status user.Status, reviewedBy string, at time.Time) (user.Account, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	acc, ok := repo.db.table[id]
	if !ok {
		return user.Account{}, user.ErrNotFound
	}
	if acc.Status != user.StatusPending {
		return user.Account{}, user.ErrAlreadyDecided
	}
	acc.Status = status
	acc.ReviewedBy = reviewedBy
	acc.UpdatedAt = at.UTC()
	return *acc, nil
}

func hasRole(roles []core.Role, role core.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func hasAccountStatus(statuses []user.Status, st user.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
