package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/submission"
)

type submissionRepository struct {
	db *submissionTable
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *DB) submission.Repository {
	return &submissionRepository{db: db.submission}
}

func (repo *submissionRepository) Create(_ context.Context, sub submission.Submission) (submission.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s := sub
	repo.db.table[sub.ID] = &s
	return sub, nil
}

func (repo *submissionRepository) GetByID(_ context.Context, id string) (submission.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sub, ok := repo.db.table[id]; ok {
		return *sub, nil
	}
	return submission.Submission{}, submission.ErrNotFound
}

func (repo *submissionRepository) Query(_ context.Context, filter submission.QueryFilter, ordering []core.DBOrdering) ([]submission.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	search := strings.ToLower(filter.Search)
	subs := make([]submission.Submission, 0)
	for _, sub := range repo.db.table {
		if search != "" && !strings.Contains(strings.ToLower(sub.Title), search) {
			continue
		}
		if filter.StudentEmail != "" && sub.StudentEmail != filter.StudentEmail {
			continue
		}
		if filter.AdviserEmail != "" && sub.AdviserEmail != filter.AdviserEmail {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, sub.Status) {
			continue
		}
		subs = append(subs, *sub)
	}

	sort.SliceStable(subs, func(i, j int) bool {
		for _, ord := range ordering {
			if c := compareSubmissions(subs[i], subs[j], ord.Field); c != 0 {
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID > subs[j].ID
	})
	return subs, nil
}

// UpdateStatus is a compare-and-set on the version.
func (repo *submissionRepository) UpdateStatus(_ context.Context, sub submission.Submission, entry submission.HistoryEntry) (submission.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	current, ok := repo.db.table[sub.ID]
	if !ok {
		return submission.Submission{}, submission.ErrNotFound
	}
	if current.Version != sub.Version {
		return submission.Submission{}, submission.ErrConflict
	}

	current.Status = sub.Status
	current.Comment = sub.Comment
	current.ReviewedBy = sub.ReviewedBy
	current.DocumentURL = sub.DocumentURL
	current.UpdatedAt = sub.UpdatedAt
	current.Version++
	repo.db.history[sub.ID] = append(repo.db.history[sub.ID], entry)
	return *current, nil
}

func (repo *submissionRepository) History(_ context.Context, id string) ([]submission.HistoryEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	entries := make([]submission.HistoryEntry, len(repo.db.history[id]))
	copy(entries, repo.db.history[id])
	return entries, nil
}

func hasStatus(statuses []submission.Status, st submission.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func compareSubmissions(a, b submission.Submission, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "created_at":
		return compareTimes(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	case "updated_at":
		return compareTimes(a.UpdatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	}
	return 0
}

func compareTimes(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
