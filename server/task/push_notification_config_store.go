// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/go-a2a/a2a-core"
)

// PushConfigStore stores the webhook registration of each task.
type PushConfigStore interface {
	// Get returns the task's config or an error of kind
	// PushNotificationConfigNotFound.
	Get(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, error)

	// Set creates or replaces the task's config.
	Set(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) error

	// Delete removes the task's config. Deleting a missing config returns an
	// error of kind PushNotificationConfigNotFound.
	Delete(ctx context.Context, taskID string) error
}

// InMemoryPushConfigStore is an in-memory implementation of [PushConfigStore].
// All operations are thread-safe using sync.RWMutex.
type InMemoryPushConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*a2a.PushNotificationConfig
}

var _ PushConfigStore = (*InMemoryPushConfigStore)(nil)

// NewInMemoryPushConfigStore creates a new in-memory push notification config store.
func NewInMemoryPushConfigStore() *InMemoryPushConfigStore {
	return &InMemoryPushConfigStore{
		configs: make(map[string]*a2a.PushNotificationConfig),
	}
}

// Get implements [PushConfigStore].
func (s *InMemoryPushConfigStore) Get(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config, exists := s.configs[taskID]
	if !exists {
		return nil, a2a.NewPushConfigNotFoundError(taskID)
	}
	return config.Clone(), nil
}

// Set implements [PushConfigStore].
func (s *InMemoryPushConfigStore) Set(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) error {
	if taskID == "" {
		return a2a.NewInvalidRequestError("task ID cannot be empty")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[taskID] = config.Clone()
	return nil
}

// Delete implements [PushConfigStore].
func (s *InMemoryPushConfigStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[taskID]; !exists {
		return a2a.NewPushConfigNotFoundError(taskID)
	}
	delete(s.configs, taskID)
	return nil
}

// DatabasePushConfigStore is a [PushConfigStore] backed by a GORM database.
type DatabasePushConfigStore struct {
	db *gorm.DB
}

var _ PushConfigStore = (*DatabasePushConfigStore)(nil)

// NewDatabasePushConfigStore creates a new DatabasePushConfigStore.
func NewDatabasePushConfigStore(db *gorm.DB) (*DatabasePushConfigStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &DatabasePushConfigStore{db: db}, nil
}

// Initialize creates the config table if it doesn't exist.
func (s *DatabasePushConfigStore) Initialize(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&PushConfigModel{}); err != nil {
		return NewTaskStoreError("initialize_push_config", "", err)
	}
	return nil
}

// Get implements [PushConfigStore].
func (s *DatabasePushConfigStore) Get(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, error) {
	var model PushConfigModel
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, a2a.NewPushConfigNotFoundError(taskID)
		}
		return nil, NewTaskStoreError("get_push_config", taskID, err)
	}
	if model.Config.V == nil {
		return nil, a2a.NewPushConfigNotFoundError(taskID)
	}
	return model.Config.V, nil
}

// Set implements [PushConfigStore].
func (s *DatabasePushConfigStore) Set(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) error {
	if taskID == "" {
		return a2a.NewInvalidRequestError("task ID cannot be empty")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	model := &PushConfigModel{
		TaskID:    taskID,
		Config:    JSONColumn[*a2a.PushNotificationConfig]{V: config.Clone()},
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return NewTaskStoreError("set_push_config", taskID, err)
	}
	return nil
}

// Delete implements [PushConfigStore].
func (s *DatabasePushConfigStore) Delete(ctx context.Context, taskID string) error {
	result := s.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&PushConfigModel{})
	if result.Error != nil {
		return NewTaskStoreError("delete_push_config", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return a2a.NewPushConfigNotFoundError(taskID)
	}
	return nil
}
