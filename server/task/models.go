// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/go-a2a/a2a-core"
)

// JSONColumn stores a value of type T as a JSON document in a single column.
type JSONColumn[T any] struct {
	V T
}

// Value implements the driver.Valuer interface for database storage.
func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database retrieval.
func (c *JSONColumn[T]) Scan(value any) error {
	var zero T
	c.V = zero

	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONColumn[%T]", value, zero)
	}
	if len(b) == 0 {
		return nil
	}

	if err := json.Unmarshal(b, &c.V); err != nil {
		return fmt.Errorf("cannot unmarshal JSONColumn[%T]: %w", zero, err)
	}
	return nil
}

// TaskModel is the database row of a task.
type TaskModel struct {
	ID        string                     `gorm:"primaryKey;size:36"`
	SessionID string                     `gorm:"size:128;index"`
	State     string                     `gorm:"size:32;not null;index"`
	Messages  JSONColumn[[]a2a.Message]  `gorm:"type:json"`
	Artifacts JSONColumn[[]a2a.Artifact] `gorm:"type:json"`
	Error     JSONColumn[*a2a.TaskError] `gorm:"type:json"`
	Metadata  JSONColumn[map[string]any] `gorm:"type:json"`
	CreatedAt time.Time                  `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt time.Time                  `gorm:"not null;index;autoUpdateTime:false"`
	Version   uint64                     `gorm:"not null"`
}

// TableName returns the table name for the TaskModel.
func (TaskModel) TableName() string {
	return "tasks"
}

// NewTaskModel converts a task into its row representation.
func NewTaskModel(t *a2a.Task) *TaskModel {
	return &TaskModel{
		ID:        t.ID,
		SessionID: t.SessionID,
		State:     string(t.State),
		Messages:  JSONColumn[[]a2a.Message]{V: t.Messages},
		Artifacts: JSONColumn[[]a2a.Artifact]{V: t.Artifacts},
		Error:     JSONColumn[*a2a.TaskError]{V: t.Error},
		Metadata:  JSONColumn[map[string]any]{V: t.Metadata},
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		Version:   t.Version,
	}
}

// ToTask converts the row back into a task.
func (m *TaskModel) ToTask() *a2a.Task {
	t := &a2a.Task{
		ID:        m.ID,
		SessionID: m.SessionID,
		State:     a2a.TaskState(m.State),
		Messages:  m.Messages.V,
		Artifacts: m.Artifacts.V,
		Error:     m.Error.V,
		Metadata:  m.Metadata.V,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
		Version:   m.Version,
	}
	if len(t.Messages) == 0 {
		t.Messages = nil
	}
	if len(t.Artifacts) == 0 {
		t.Artifacts = nil
	}
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}
	return t
}

// PushConfigModel is the database row of a task's push notification config.
type PushConfigModel struct {
	TaskID    string                                  `gorm:"primaryKey;size:36"`
	Config    JSONColumn[*a2a.PushNotificationConfig] `gorm:"type:json;not null"`
	UpdatedAt time.Time
}

// TableName returns the table name for the PushConfigModel.
func (PushConfigModel) TableName() string {
	return "push_notification_configs"
}
