package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant
type Status string

const (
	StatusProvisioning Status = "PROVISIONING"
	StatusActive       Status = "ACTIVE"
	StatusError        Status = "ERROR"
	StatusSuspended    Status = "SUSPENDED"
	StatusDeleting     Status = "DELETING"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusProvisioning, StatusActive, StatusError, StatusSuspended, StatusDeleting:
		return true
	}
	return false
}

// Tenant represents the tenants table
type Tenant struct {
	ID                 uuid.UUID         `json:"id"`
	Slug               string            `json:"slug"`
	Name               string            `json:"name"`
	Status             Status            `json:"status"`
	ResourceIDs        map[string]string `json:"resource_ids"`
	CustomPluginSource string            `json:"custom_plugin_source,omitempty"`
	LastError          string            `json:"last_error,omitempty"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// ProvisioningLog represents the tenant_provisioning_logs table
type ProvisioningLog struct {
	TenantID  uuid.UUID      `json:"tenant_id"`
	Step      string         `json:"step"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
