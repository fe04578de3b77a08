package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ProjectStatus mirrors the lifecycle states reported by the database platform
type ProjectStatus string

const (
	ProjectStatusComingUp  ProjectStatus = "COMING_UP"
	ProjectStatusHealthy   ProjectStatus = "ACTIVE_HEALTHY"
	ProjectStatusPaused    ProjectStatus = "PAUSED"
	ProjectStatusRestoring ProjectStatus = "RESTORING"
	ProjectStatusDeleted   ProjectStatus = "DELETED"
)

// PlanTier is the unified plan vocabulary used everywhere in the registry
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// ValidPlan reports whether the given tier is a known plan
func ValidPlan(plan PlanTier) bool {
	switch plan {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// PlanLimits holds per-dimension quota ceilings. -1 means unlimited.
type PlanLimits struct {
	DatabaseMB  int64
	StorageMB   int64
	BandwidthMB int64
	Requests    int64
}

// LimitsForPlan returns the quota ceilings for a plan tier
func LimitsForPlan(plan PlanTier) PlanLimits {
	switch plan {
	case PlanPro:
		return PlanLimits{DatabaseMB: 8192, StorageMB: 102400, BandwidthMB: 256000, Requests: 5000000}
	case PlanEnterprise:
		return PlanLimits{DatabaseMB: -1, StorageMB: -1, BandwidthMB: -1, Requests: -1}
	default:
		return PlanLimits{DatabaseMB: 512, StorageMB: 1024, BandwidthMB: 5120, Requests: 100000}
	}
}

// ManagedProject represents one externally provisioned database-platform project
type ManagedProject struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	ProjectRef string        `gorm:"uniqueIndex;size:100;not null" json:"project_ref"`
	Name       string        `gorm:"size:255;not null" json:"name"`
	Region     string        `gorm:"size:50" json:"region"`
	Status     ProjectStatus `gorm:"size:50;default:COMING_UP;index" json:"status"`

	// Connection info
	DatabaseHost string `gorm:"size:255" json:"database_host"`

	// Credentials. Service-role key and database password are stored as
	// vault blobs (iv:tag:ciphertext), never plaintext.
	AnonKey                   string `gorm:"type:text" json:"-"`
	ServiceRoleKeyEncrypted   string `gorm:"type:text" json:"-"`
	DatabasePasswordEncrypted string `gorm:"type:text" json:"-"`
	JWTSecret                 string `gorm:"type:text" json:"-"`

	// Timestamps. Rows are never hard-deleted even after the remote project
	// is destroyed.
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	PausedAt  *time.Time `json:"paused_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// BackendEndpoints are the customer-facing derived URLs for a backend
type BackendEndpoints struct {
	API      string `json:"api"`
	Auth     string `json:"auth"`
	Storage  string `json:"storage"`
	Realtime string `json:"realtime"`
}

// CustomerBackend is the customer-facing projection of a ManagedProject
type CustomerBackend struct {
	ID            uint     `gorm:"primaryKey" json:"id"`
	CustomerID    string   `gorm:"size:100;not null;index" json:"customer_id"`
	CustomerEmail string   `gorm:"size:255" json:"customer_email"`
	Name          string   `gorm:"size:255;not null" json:"name"`
	Plan          PlanTier `gorm:"size:20;default:free" json:"plan"`
	Template      string   `gorm:"size:50" json:"template"`
	APIKey        string   `gorm:"uniqueIndex;size:120" json:"-"`

	ProjectID uint           `gorm:"not null;index" json:"project_id"`
	Project   ManagedProject `gorm:"foreignKey:ProjectID" json:"project"`

	// Usage counters, refreshed by an external usage collector
	UsageDatabaseMB  int64 `gorm:"default:0" json:"usage_database_mb"`
	UsageStorageMB   int64 `gorm:"default:0" json:"usage_storage_mb"`
	UsageBandwidthMB int64 `gorm:"default:0" json:"usage_bandwidth_mb"`
	UsageRequests    int64 `gorm:"default:0" json:"usage_requests"`

	// Plan limits, -1 means unlimited
	LimitDatabaseMB  int64 `gorm:"default:512" json:"limit_database_mb"`
	LimitStorageMB   int64 `gorm:"default:1024" json:"limit_storage_mb"`
	LimitBandwidthMB int64 `gorm:"default:5120" json:"limit_bandwidth_mb"`
	LimitRequests    int64 `gorm:"default:100000" json:"limit_requests"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ApplyPlan rewrites the backend's limits from the plan catalog
func (b *CustomerBackend) ApplyPlan(plan PlanTier) {
	limits := LimitsForPlan(plan)
	b.Plan = plan
	b.LimitDatabaseMB = limits.DatabaseMB
	b.LimitStorageMB = limits.StorageMB
	b.LimitBandwidthMB = limits.BandwidthMB
	b.LimitRequests = limits.Requests
}

// Endpoints derives the customer-facing service URLs from the project ref
func (b *CustomerBackend) Endpoints(domain string) BackendEndpoints {
	base := fmt.Sprintf("https://%s.%s", b.Project.ProjectRef, domain)
	return BackendEndpoints{
		API:      base + "/rest/v1",
		Auth:     base + "/auth/v1",
		Storage:  base + "/storage/v1",
		Realtime: fmt.Sprintf("wss://%s.%s/realtime/v1", b.Project.ProjectRef, domain),
	}
}

// UsageDimension is one row of a usage report
type UsageDimension struct {
	Current    int64   `json:"current"`
	Limit      int64   `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// UsageReport summarizes consumption against plan limits per dimension
type UsageReport struct {
	Database  UsageDimension `json:"database"`
	Storage   UsageDimension `json:"storage"`
	Bandwidth UsageDimension `json:"bandwidth"`
	Requests  UsageDimension `json:"requests"`
}

func usageDimension(current, limit int64) UsageDimension {
	dim := UsageDimension{Current: current, Limit: limit}
	if limit > 0 {
		dim.Percentage = float64(current) / float64(limit) * 100
	}
	return dim
}

// Usage computes the usage report from the stored snapshot. Unlimited
// dimensions (-1) report zero percent.
func (b *CustomerBackend) Usage() UsageReport {
	return UsageReport{
		Database:  usageDimension(b.UsageDatabaseMB, b.LimitDatabaseMB),
		Storage:   usageDimension(b.UsageStorageMB, b.LimitStorageMB),
		Bandwidth: usageDimension(b.UsageBandwidthMB, b.LimitBandwidthMB),
		Requests:  usageDimension(b.UsageRequests, b.LimitRequests),
	}
}
