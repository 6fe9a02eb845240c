package inmemdb

import (
	"sync"

	"github.com/trezcool/hatua/core/activity"
	"github.com/trezcool/hatua/core/phase"
	"github.com/trezcool/hatua/core/submission"
	"github.com/trezcool/hatua/core/user"
)

type (
	DB struct {
		user       *userTable
		phase      *phaseTable
		activity   *activityTable
		submission *submissionTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	phaseTable struct {
		sync.RWMutex
		table map[string]*phase.Phase
	}

	activityTable struct {
		sync.RWMutex
		table map[string]*activity.PhaseActivity // keyed by studentID+"/"+phaseID
		log   []activity.LogEntry
	}

	submissionTable struct {
		sync.RWMutex
		table   map[string]*submission.Submission // keyed by ID
		history []submission.History
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:       &userTable{table: make(map[string]*user.User)},
		phase:      &phaseTable{table: make(map[string]*phase.Phase)},
		activity:   &activityTable{table: make(map[string]*activity.PhaseActivity)},
		submission: &submissionTable{table: make(map[string]*submission.Submission)},
	}
	return db, nil
}

// Reset drops every stored row; test helper.
func (db *DB) Reset() {
	db.user.Lock()
	db.user.table = make(map[string]*user.User)
	db.user.Unlock()

	db.phase.Lock()
	db.phase.table = make(map[string]*phase.Phase)
	db.phase.Unlock()

	db.activity.Lock()
	db.activity.table = make(map[string]*activity.PhaseActivity)
	db.activity.log = nil
	db.activity.Unlock()

	db.submission.Lock()
	db.submission.table = make(map[string]*submission.Submission)
	db.submission.history = nil
	db.submission.Unlock()
}
