// Package inmemdb keeps the repositories in memory. It backs the tests and the DEV server when no database is around.
package inmemdb

import (
	"context"
	"sync"

	"github.com/roxnlabs/mentora/core/feedback"
	"github.com/roxnlabs/mentora/core/session"
	"github.com/roxnlabs/mentora/core/user"
	"github.com/roxnlabs/mentora/services/secrets"
	"github.com/roxnlabs/mentora/storage/migrate"
)

type (
	DB struct {
		user        *userTable
		session     *sessionTable
		feedback    *feedbackTable
		errorReport *errorReportTable
		secret      *secretTable
		migration   *migrationTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	sessionTable struct {
		sync.RWMutex
		table map[string]*session.Record
	}

	feedbackTable struct {
		sync.RWMutex
		table map[string]*feedback.Feedback
	}

	errorReportTable struct {
		sync.RWMutex
		table map[string]*feedback.ErrorReport
	}

	secretTable struct {
		sync.RWMutex
		table map[string]*secrets.Sealed
	}

	migrationTable struct {
		sync.RWMutex
		table    map[int64]migrate.Record
		commands []string // names of the commands run, in order
		failOn   string   // command name that fails, for tests
	}
)

func Open() *DB {
	return &DB{
		user:        &userTable{table: make(map[string]*user.User)},
		session:     &sessionTable{table: make(map[string]*session.Record)},
		feedback:    &feedbackTable{table: make(map[string]*feedback.Feedback)},
		errorReport: &errorReportTable{table: make(map[string]*feedback.ErrorReport)},
		secret:      &secretTable{table: make(map[string]*secrets.Sealed)},
		migration:   &migrationTable{table: make(map[int64]migrate.Record)},
	}
}

// Ping never fails; it lets the health checks treat both stores alike.
func (db *DB) Ping(context.Context) error { return nil }

// paginate returns the window of n items selected by limit & offset.
func paginate(n int, limit, offset int64) (int, int) {
	if offset >= int64(n) {
		return n, n
	}
	end := int64(n)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return int(offset), int(end)
}
