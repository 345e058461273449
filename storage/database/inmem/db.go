// Package inmemdb holds mutex-guarded in-memory repositories, used by tests and the `memory` engine.
package inmemdb

import (
	"sync"

	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/submission"
	"github.com/trezcool/capstone/core/user"
)

type (
	DB struct {
		submission   *submissionTable
		notification *notificationTable
		account      *accountTable
	}

	submissionTable struct {
		sync.RWMutex
		table   map[string]*submission.Submission
		history map[string][]submission.HistoryEntry
	}

	notificationTable struct {
		sync.RWMutex
		table map[string]*notification.Notification
		open  map[notification.DedupKey]string // key -> id of the open record
	}

	accountTable struct {
		sync.RWMutex
		table map[string]*user.Account
	}
)

func Open() *DB {
	return &DB{
		submission: &submissionTable{
			table:   make(map[string]*submission.Submission),
			history: make(map[string][]submission.HistoryEntry),
		},
		notification: &notificationTable{
			table: make(map[string]*notification.Notification),
			open:  make(map[notification.DedupKey]string),
		},
		account: &accountTable{table: make(map[string]*user.Account)},
	}
}
