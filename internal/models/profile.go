package models

import "time"

// Profile groups permissions; every user has at most one.
type Profile struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Name        string       `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description string       `gorm:"size:500" json:"description,omitempty"`
	IsSystem    bool         `gorm:"default:false" json:"isSystem"`
	Permissions []Permission `gorm:"many2many:profile_permissions;" json:"permissions,omitempty"`
}

// Permission grants one action on one resource type; either may be "*".
type Permission struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	ResourceType string `gorm:"size:50;not null;uniqueIndex:idx_perm_resource_action" json:"resourceType"`
	Action       string `gorm:"size:50;not null;uniqueIndex:idx_perm_resource_action" json:"action"`
	Description  string `gorm:"size:200" json:"description,omitempty"`
}

// Code returns "resource:action".
func (p Permission) Code() string {
	return p.ResourceType + ":" + p.Action
}
