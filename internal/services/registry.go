package services

import (
	"errors"
	"time"

	"github.com/easbase/backend/internal/database"
	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
	"gorm.io/gorm"
)

// Registry is the persistence boundary for provisioning: customer backends,
// their managed projects and provisioning jobs.
type Registry interface {
	CreateJob(job *models.ProvisionJob) error
	SaveJob(job *models.ProvisionJob) error
	GetJob(customerID, jobID string) (*models.ProvisionJob, error)
	ListUnreconciledJobs(olderThan time.Duration) ([]models.ProvisionJob, error)

	SaveBackend(project *models.ManagedProject, backend *models.CustomerBackend) error
	GetBackend(customerID string, backendID uint) (*models.CustomerBackend, error)
	ListBackends(customerID string) ([]models.CustomerBackend, error)
	UpdateBackend(backend *models.CustomerBackend) error
	UpdateProject(project *models.ManagedProject) error
	SoftDeleteBackend(backend *models.CustomerBackend) error
}

// GormRegistry is the production Registry backed by the shared GORM handle
type GormRegistry struct{}

func NewGormRegistry() *GormRegistry {
	return &GormRegistry{}
}

func (r *GormRegistry) CreateJob(job *models.ProvisionJob) error {
	return database.DB.Create(job).Error
}

func (r *GormRegistry) SaveJob(job *models.ProvisionJob) error {
	if err := database.DB.Save(job).Error; err != nil {
		return err
	}
	// Best-effort cache for dashboard polling; the DB row is authoritative
	database.CacheSet(database.CacheKeyJob+job.ID, job, database.CacheTTLJob)
	return nil
}

func (r *GormRegistry) GetJob(customerID, jobID string) (*models.ProvisionJob, error) {
	var job models.ProvisionJob

	// Dashboards poll jobs aggressively; serve from cache when fresh. SaveJob
	// rewrites the entry on every state change.
	if err := database.CacheGet(database.CacheKeyJob+jobID, &job); err == nil && job.CustomerID == customerID {
		return &job, nil
	}

	err := database.DB.Where("id = ? AND customer_id = ?", jobID, customerID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, platform.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *GormRegistry) ListUnreconciledJobs(olderThan time.Duration) ([]models.ProvisionJob, error) {
	var jobs []models.ProvisionJob
	cutoff := time.Now().Add(-olderThan)
	err := database.DB.
		Where("state = ? AND reconciled = ? AND project_ref <> '' AND updated_at < ?",
			models.JobFailed, false, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// SaveBackend persists the project and backend rows in one transaction
func (r *GormRegistry) SaveBackend(project *models.ManagedProject, backend *models.CustomerBackend) error {
	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return err
		}
		backend.ProjectID = project.ID
		if err := tx.Create(backend).Error; err != nil {
			return err
		}
		backend.Project = *project
		return nil
	})
	if err != nil {
		return err
	}
	database.InvalidateBackendCache(backend.CustomerID)
	return nil
}

func (r *GormRegistry) GetBackend(customerID string, backendID uint) (*models.CustomerBackend, error) {
	var backend models.CustomerBackend
	err := database.DB.Preload("Project").
		Where("id = ? AND customer_id = ?", backendID, customerID).
		First(&backend).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, platform.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &backend, nil
}

func (r *GormRegistry) ListBackends(customerID string) ([]models.CustomerBackend, error) {
	var backends []models.CustomerBackend
	cacheKey := database.CacheKeyBackendList + customerID
	if err := database.CacheGet(cacheKey, &backends); err == nil {
		return backends, nil
	}

	err := database.DB.Preload("Project").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&backends).Error
	if err != nil {
		return nil, err
	}
	database.CacheSet(cacheKey, backends, database.CacheTTLBackend)
	return backends, nil
}

func (r *GormRegistry) UpdateBackend(backend *models.CustomerBackend) error {
	if err := database.DB.Save(backend).Error; err != nil {
		return err
	}
	database.InvalidateBackendCache(backend.CustomerID)
	return nil
}

func (r *GormRegistry) UpdateProject(project *models.ManagedProject) error {
	return database.DB.Save(project).Error
}

// SoftDeleteBackend marks the backend deleted. The row stays in the registry
// even though the remote project is gone.
func (r *GormRegistry) SoftDeleteBackend(backend *models.CustomerBackend) error {
	if err := database.DB.Delete(backend).Error; err != nil {
		return err
	}
	database.InvalidateBackendCache(backend.CustomerID)
	return nil
}
