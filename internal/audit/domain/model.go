package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeService  ActorType = "service"
	ActorTypeAdmin    ActorType = "admin"
	ActorTypeReadonly ActorType = "readonly"
)

type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"column:actor_type" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Action     string            `gorm:"column:action;index" json:"action"`
	TargetType string            `gorm:"column:target_type;index" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
