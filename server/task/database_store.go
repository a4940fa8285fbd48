// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/go-a2a/a2a-core"
)

// DatabaseStore is a [Store] backed by a GORM database.
//
// Transitions are committed with a conditional UPDATE on (id, state, version)
// so the at-most-one-winner guarantee holds across processes sharing the
// database.
type DatabaseStore struct {
	db          *gorm.DB
	createTable bool
}

var _ Store = (*DatabaseStore)(nil)

// DatabaseStoreConfig holds configuration for DatabaseStore.
type DatabaseStoreConfig struct {
	DB          *gorm.DB
	CreateTable bool // Whether to create the table if it doesn't exist
}

// NewDatabaseStore creates a new DatabaseStore.
func NewDatabaseStore(config DatabaseStoreConfig) (*DatabaseStore, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	return &DatabaseStore{
		db:          config.DB,
		createTable: config.CreateTable,
	}, nil
}

// Initialize prepares the database for use.
func (s *DatabaseStore) Initialize(ctx context.Context) error {
	if !s.createTable {
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&TaskModel{}); err != nil {
		return NewTaskStoreError("initialize", "", err)
	}
	return nil
}

// Create implements [Store].
func (s *DatabaseStore) Create(ctx context.Context, task *a2a.Task) (*a2a.Task, error) {
	t, err := prepareCreate(task)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(NewTaskModel(t)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, a2a.Errorf(a2a.KindConflict, "task %s already exists", t.ID)
		}
		return nil, NewTaskStoreError("create", t.ID, err)
	}

	return t, nil
}

func (s *DatabaseStore) load(db *gorm.DB, op, taskID string) (*a2a.Task, error) {
	var model TaskModel
	if err := db.Where("id = ?", taskID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, a2a.NewTaskNotFoundError(taskID)
		}
		return nil, NewTaskStoreError(op, taskID, err)
	}
	return model.ToTask(), nil
}

// Get implements [Store].
func (s *DatabaseStore) Get(ctx context.Context, taskID string) (*a2a.Task, error) {
	return s.load(s.db.WithContext(ctx), "get", taskID)
}

// CompareAndTransition implements [Store].
func (s *DatabaseStore) CompareAndTransition(ctx context.Context, taskID string, expected, target a2a.TaskState, mutate Mutator) (*a2a.Task, error) {
	return s.update(ctx, "transition", taskID, func(cur *a2a.Task) (*a2a.Task, error) {
		return applyTransition(cur, expected, target, mutate)
	})
}

// AppendArtifact implements [Store].
func (s *DatabaseStore) AppendArtifact(ctx context.Context, taskID string, artifact a2a.Artifact) (*a2a.Task, error) {
	return s.update(ctx, "append_artifact", taskID, func(cur *a2a.Task) (*a2a.Task, error) {
		return applyArtifact(cur, artifact)
	})
}

func (s *DatabaseStore) update(ctx context.Context, op, taskID string, fn func(cur *a2a.Task) (*a2a.Task, error)) (*a2a.Task, error) {
	var next *a2a.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.load(tx, op, taskID)
		if err != nil {
			return err
		}
		next, err = fn(cur)
		if err != nil {
			return err
		}

		row := NewTaskModel(next)
		result := tx.Model(&TaskModel{}).
			Where("id = ? AND state = ? AND version = ?", cur.ID, string(cur.State), cur.Version).
			Updates(map[string]any{
				"state":      row.State,
				"messages":   row.Messages,
				"artifacts":  row.Artifacts,
				"error":      row.Error,
				"metadata":   row.Metadata,
				"updated_at": row.UpdatedAt,
				"version":    row.Version,
			})
		if result.Error != nil {
			return NewTaskStoreError(op, taskID, result.Error)
		}
		if result.RowsAffected == 0 {
			// Another writer committed between our read and write.
			latest, err := s.load(tx, op, taskID)
			if err != nil {
				return err
			}
			return a2a.NewConflictError(taskID, cur.State, latest.State)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return next, nil
}

// List implements [Store].
func (s *DatabaseStore) List(ctx context.Context, filter a2a.ListFilter) ([]*a2a.Task, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	query := s.db.WithContext(ctx).Model(&TaskModel{})
	if filter.SessionID != "" {
		query = query.Where("session_id = ?", filter.SessionID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", string(filter.State))
	}
	if filter.TerminalOnly {
		query = query.Where("state IN ?", []string{
			string(a2a.TaskStateCompleted),
			string(a2a.TaskStateCanceled),
			string(a2a.TaskStateRejected),
			string(a2a.TaskStateFailed),
		})
	}
	if !filter.UpdatedBefore.IsZero() {
		query = query.Where("updated_at < ?", filter.UpdatedBefore.UTC())
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, NewTaskStoreError("count", "", err)
	}

	var models []TaskModel
	if err := query.Order("created_at, id").Limit(filter.Limit).Offset(filter.Offset).Find(&models).Error; err != nil {
		return nil, 0, NewTaskStoreError("list", "", err)
	}

	tasks := make([]*a2a.Task, len(models))
	for i := range models {
		tasks[i] = models[i].ToTask()
	}

	return tasks, int(total), nil
}

// Delete implements [Store].
func (s *DatabaseStore) Delete(ctx context.Context, taskID string) error {
	result := s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&TaskModel{})
	if result.Error != nil {
		return NewTaskStoreError("delete", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return a2a.NewTaskNotFoundError(taskID)
	}

	return nil
}

// Close cleanly shuts down the database store.
func (s *DatabaseStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return NewTaskStoreError("close", "", err)
	}
	return sqlDB.Close()
}
