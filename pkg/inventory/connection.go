// pkg/inventory/connection.go

package inventory

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAPIPort      = 55000
	DefaultIndexerPort  = 9200
	DefaultSyncInterval = 86400
)

// Connection is a configured Wazuh deployment. Passwords hold either an
// encrypted blob or a vault: reference and are resolved only at call time.
type Connection struct {
	ID          uint   `gorm:"primaryKey" json:"id" yaml:"id,omitempty"`
	Name        string `gorm:"size:255;not null" json:"name" yaml:"name" validate:"required"`
	ServerURL   string `gorm:"size:255;not null" json:"server_url" yaml:"server_url" validate:"required,url"`
	APIPort     int    `gorm:"not null;default:55000" json:"api_port" yaml:"api_port" validate:"min=1,max=65535"`
	APIUsername string `gorm:"size:255" json:"api_username" yaml:"api_username" validate:"required"`
	APIPassword string `gorm:"type:text" json:"-" yaml:"api_password,omitempty"`

	IndexerURL      string `gorm:"size:255" json:"indexer_url" yaml:"indexer_url" validate:"omitempty,url"`
	IndexerPort     int    `gorm:"not null;default:9200" json:"indexer_port" yaml:"indexer_port" validate:"min=0,max=65535"`
	IndexerUsername string `gorm:"size:255" json:"indexer_username" yaml:"indexer_username"`
	IndexerPassword string `gorm:"type:text" json:"-" yaml:"indexer_password,omitempty"`

	// SyncInterval is in seconds.
	SyncInterval   int        `gorm:"not null;default:86400" json:"sync_interval" yaml:"sync_interval" validate:"min=60"`
	LastSync       *time.Time `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	IsActive       bool       `gorm:"column:is_conn_active;not null;default:true" json:"is_active" yaml:"is_active"`
	IsDeleted      bool       `gorm:"not null;default:false" json:"is_deleted" yaml:"-"`
	EntityID       uint       `gorm:"index" json:"entity_id" yaml:"entity_id"`
	ITILCategoryID uint       `gorm:"column:itilcategories_id" json:"itil_category_id" yaml:"itil_category_id"`

	DateCreation time.Time `json:"date_creation" yaml:"-"`
	DateMod      time.Time `json:"date_mod" yaml:"-"`
}

func (Connection) TableName() string { return "wazuh_connections" }

// ApplyDefaults fills zero ports and interval.
func (c *Connection) ApplyDefaults() {
	if c.APIPort == 0 {
		c.APIPort = DefaultAPIPort
	}
	if c.IndexerPort == 0 && c.IndexerURL != "" {
		c.IndexerPort = DefaultIndexerPort
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
}

// ManagerBase is the manager API root, e.g. https://wazuh.example:55000.
func (c *Connection) ManagerBase() string {
	return joinHostPort(c.ServerURL, c.APIPort)
}

// IndexerBase is the indexer root, or "" when no indexer is configured.
func (c *Connection) IndexerBase() string {
	if c.IndexerURL == "" {
		return ""
	}
	return joinHostPort(c.IndexerURL, c.IndexerPort)
}

// Interval returns SyncInterval as a duration.
func (c *Connection) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// Due reports whether a scheduled pass should run at now.
func (c *Connection) Due(now time.Time) bool {
	if !c.IsActive || c.IsDeleted {
		return false
	}
	if c.LastSync == nil {
		return true
	}
	return !now.Before(c.LastSync.Add(c.Interval()))
}

func joinHostPort(base string, port int) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if port == 0 {
		return base
	}
	return fmt.Sprintf("%s:%d", base, port)
}
