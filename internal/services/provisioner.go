package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/easbase/backend/internal/config"
	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
	"github.com/easbase/backend/internal/security"
	"github.com/easbase/backend/internal/templates"
	"github.com/google/uuid"
)

// ManagementAPI is the slice of the platform client the provisioner uses
type ManagementAPI interface {
	CreateProject(ctx context.Context, name, plan, region, dbPassword string) (*platform.ProjectHandle, error)
	GetProjectStatus(ctx context.Context, ref string) (models.ProjectStatus, error)
	GetAPIKeys(ctx context.Context, ref string) (*platform.APIKeys, error)
	GetSettings(ctx context.Context, ref string) (*platform.ProjectSettings, error)
	PauseProject(ctx context.Context, ref string) error
	ResumeProject(ctx context.Context, ref string) error
	DeleteProject(ctx context.Context, ref string) error
}

// SchemaApplier executes a DDL bundle against a provisioned project
type SchemaApplier interface {
	Apply(ctx context.Context, projectRef, serviceRoleKey, sqlText string) error
}

// Job error codes stored on failed provision jobs
const (
	ErrCodeProvisioning = "PROVISIONING_ERROR"
	ErrCodeTimeout      = "PROVISIONING_TIMEOUT"
	ErrCodeSchema       = "SCHEMA_APPLICATION_ERROR"
	ErrCodeCancelled    = "CANCELLED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

var (
	ErrInvalidPlan = errors.New("unknown plan tier")
	ErrInvalidName = errors.New("backend name is required")
)

// CreateBackendInput carries the dashboard's provisioning request
type CreateBackendInput struct {
	Name     string `json:"name"`
	Template string `json:"template"`
	Plan     string `json:"plan"`
}

// Provisioner runs the end-to-end "create backend for customer" workflow and
// the lifecycle operations on existing backends. One instance serves all
// customers; concurrent workflows share nothing but the read-only config.
type Provisioner struct {
	cfg      *config.Config
	api      ManagementAPI
	schema   SchemaApplier
	vault    *security.Vault
	registry Registry

	// Platform domain used to derive customer-facing endpoint URLs
	projectDomain string

	pollAttempts int
	pollInterval time.Duration
}

// NewProvisioner wires the orchestrator. Collaborators are injected so tests
// can run the workflow against stubs.
func NewProvisioner(cfg *config.Config, api ManagementAPI, schema SchemaApplier, vault *security.Vault, registry Registry) *Provisioner {
	return &Provisioner{
		cfg:           cfg,
		api:           api,
		schema:        schema,
		vault:         vault,
		registry:      registry,
		projectDomain: "easbase.dev",
		pollAttempts:  platform.DefaultPollAttempts,
		pollInterval:  platform.DefaultPollInterval,
	}
}

// StartCreateBackend validates the request, records a provisioning job and
// runs the workflow in the background. The caller gets the job back
// immediately and polls it; provisioning takes minutes at worst.
func (p *Provisioner) StartCreateBackend(customerID, customerEmail string, input CreateBackendInput) (*models.ProvisionJob, error) {
	if input.Name == "" {
		return nil, ErrInvalidName
	}
	if input.Plan == "" {
		input.Plan = string(models.PlanFree)
	}
	if !models.ValidPlan(models.PlanTier(input.Plan)) {
		return nil, ErrInvalidPlan
	}

	job := &models.ProvisionJob{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		State:      models.JobRequested,
	}
	if err := p.registry.CreateJob(job); err != nil {
		return nil, fmt.Errorf("failed to record provisioning job: %w", err)
	}

	// The workflow goroutine mutates its own copy of the job; the returned
	// value is a snapshot for the 202 response and the registry row is the
	// only shared view afterwards.
	workflow := *job
	go func() {
		if _, err := p.CreateBackend(context.Background(), &workflow, customerID, customerEmail, input); err != nil {
			log.Printf("Provisioner: job %s failed: %v", workflow.ID, err)
		}
	}()

	return job, nil
}

// CreateBackend runs the provisioning workflow for one customer request.
// Steps are strictly sequential; each step advances the job state, and any
// failure lands the job in the failed state with an error code. On failure
// after the remote project exists, registered undo actions run in reverse;
// if cleanup itself fails the orphan is left for the reconciler.
func (p *Provisioner) CreateBackend(ctx context.Context, job *models.ProvisionJob, customerID, customerEmail string, input CreateBackendInput) (*models.CustomerBackend, error) {
	var undo []func()

	fail := func(code string, err error, compensate bool) error {
		log.Printf("Provisioner: job %s failed at state %s: %v", job.ID, job.State, err)
		if compensate {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
		}
		now := time.Now()
		job.State = models.JobFailed
		job.ErrorCode = code
		job.ErrorMessage = err.Error()
		job.CompletedAt = &now
		if saveErr := p.registry.SaveJob(job); saveErr != nil {
			log.Printf("Provisioner: failed to persist failure for job %s: %v", job.ID, saveErr)
		}
		return err
	}

	advance := func(state models.JobState) {
		job.State = state
		if err := p.registry.SaveJob(job); err != nil {
			log.Printf("Provisioner: failed to persist state %s for job %s: %v", state, job.ID, err)
		}
	}

	dbPassword, err := security.GeneratePassword(32)
	if err != nil {
		return nil, fail(ErrCodeInternal, err, false)
	}

	// Project names only need to be unique within the organization
	projectName := fmt.Sprintf("%s-%d", customerID, time.Now().Unix())

	// Step 1: create the remote project
	handle, err := p.api.CreateProject(ctx, projectName, input.Plan, p.cfg.ProjectRegion, dbPassword)
	if err != nil {
		return nil, fail(ErrCodeProvisioning, err, false)
	}
	job.ProjectRef = handle.Ref
	advance(models.JobProjectCreated)

	undo = append(undo, func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.api.DeleteProject(cleanupCtx, handle.Ref); err != nil {
			log.Printf("Provisioner: orphan cleanup of project %s failed, leaving to reconciler: %v", handle.Ref, err)
			return
		}
		job.Reconciled = true
	})

	// Step 2: wait for the project to come up. On timeout the project may
	// still be provisioning, so it is left alone for the reconciler rather
	// than deleted here.
	if err := platform.WaitUntilReady(ctx, p.api, handle.Ref, p.pollAttempts, p.pollInterval); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fail(ErrCodeCancelled, err, true)
		}
		return nil, fail(ErrCodeTimeout, err, false)
	}
	advance(models.JobReady)

	// Step 3: fetch keys and settings
	keys, err := p.api.GetAPIKeys(ctx, handle.Ref)
	if err != nil {
		return nil, fail(ErrCodeProvisioning, err, true)
	}
	settings, err := p.api.GetSettings(ctx, handle.Ref)
	if err != nil {
		return nil, fail(ErrCodeProvisioning, err, true)
	}
	advance(models.JobKeysRetrieved)

	// Step 4: apply the business template's DDL
	sqlText := templates.Render(templates.BusinessType(input.Template))
	if err := p.schema.Apply(ctx, handle.Ref, keys.ServiceRoleKey, sqlText); err != nil {
		return nil, fail(ErrCodeSchema, err, true)
	}
	advance(models.JobSchemaApplied)

	// Step 5: encrypt secrets and persist the registry rows
	encryptedServiceKey, err := p.vault.Encrypt(keys.ServiceRoleKey)
	if err != nil {
		return nil, fail(ErrCodeInternal, err, true)
	}
	encryptedDBPassword, err := p.vault.Encrypt(dbPassword)
	if err != nil {
		return nil, fail(ErrCodeInternal, err, true)
	}
	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		return nil, fail(ErrCodeInternal, err, true)
	}

	project := &models.ManagedProject{
		ProjectRef:                handle.Ref,
		Name:                      projectName,
		Region:                    p.cfg.ProjectRegion,
		Status:                    models.ProjectStatusHealthy,
		DatabaseHost:              settings.DatabaseHost,
		AnonKey:                   keys.AnonKey,
		ServiceRoleKeyEncrypted:   encryptedServiceKey,
		DatabasePasswordEncrypted: encryptedDBPassword,
		JWTSecret:                 settings.JWTSecret,
	}
	backend := &models.CustomerBackend{
		CustomerID:    customerID,
		CustomerEmail: customerEmail,
		Name:          input.Name,
		Template:      input.Template,
		APIKey:        apiKey,
	}
	backend.ApplyPlan(models.PlanTier(input.Plan))

	if err := p.registry.SaveBackend(project, backend); err != nil {
		return nil, fail(ErrCodeInternal, err, true)
	}
	advance(models.JobPersisted)

	// Step 6: done. Endpoint URLs are derived, not stored.
	now := time.Now()
	job.State = models.JobComplete
	job.BackendID = &backend.ID
	job.CompletedAt = &now
	job.Reconciled = true
	if err := p.registry.SaveJob(job); err != nil {
		log.Printf("Provisioner: failed to persist completion for job %s: %v", job.ID, err)
	}

	log.Printf("Provisioner: backend %d (project %s) provisioned for customer %s", backend.ID, handle.Ref, customerID)
	return backend, nil
}

// Endpoints derives the customer-facing URLs for a backend
func (p *Provisioner) Endpoints(backend *models.CustomerBackend) models.BackendEndpoints {
	return backend.Endpoints(p.projectDomain)
}

// PauseBackend suspends the remote project and records the new status
func (p *Provisioner) PauseBackend(ctx context.Context, customerID string, backendID uint) error {
	backend, err := p.registry.GetBackend(customerID, backendID)
	if err != nil {
		return err
	}
	if err := p.api.PauseProject(ctx, backend.Project.ProjectRef); err != nil {
		return err
	}

	now := time.Now()
	backend.Project.Status = models.ProjectStatusPaused
	backend.Project.PausedAt = &now
	return p.registry.UpdateProject(&backend.Project)
}

// ResumeBackend restores a paused project. The platform restores
// asynchronously, so the recorded status is RESTORING until the next poll.
func (p *Provisioner) ResumeBackend(ctx context.Context, customerID string, backendID uint) error {
	backend, err := p.registry.GetBackend(customerID, backendID)
	if err != nil {
		return err
	}
	if err := p.api.ResumeProject(ctx, backend.Project.ProjectRef); err != nil {
		return err
	}

	backend.Project.Status = models.ProjectStatusRestoring
	backend.Project.PausedAt = nil
	return p.registry.UpdateProject(&backend.Project)
}

// UpgradeBackend moves a backend to a new plan tier and rewrites its limits
func (p *Provisioner) UpgradeBackend(ctx context.Context, customerID string, backendID uint, plan models.PlanTier) (*models.CustomerBackend, error) {
	if !models.ValidPlan(plan) {
		return nil, ErrInvalidPlan
	}
	backend, err := p.registry.GetBackend(customerID, backendID)
	if err != nil {
		return nil, err
	}
	backend.ApplyPlan(plan)
	if err := p.registry.UpdateBackend(backend); err != nil {
		return nil, err
	}
	return backend, nil
}

// DeleteBackend destroys the remote project and soft-deletes the registry
// rows. Registry history is kept forever; the remote deletion is permanent.
func (p *Provisioner) DeleteBackend(ctx context.Context, customerID string, backendID uint) error {
	backend, err := p.registry.GetBackend(customerID, backendID)
	if err != nil {
		return err
	}
	if err := p.api.DeleteProject(ctx, backend.Project.ProjectRef); err != nil {
		return err
	}

	now := time.Now()
	backend.Project.Status = models.ProjectStatusDeleted
	backend.Project.DeletedAt = &now
	if err := p.registry.UpdateProject(&backend.Project); err != nil {
		return err
	}
	return p.registry.SoftDeleteBackend(backend)
}

// GetBackendUsage reports consumption against plan limits from the stored
// snapshot. Refreshing the snapshot from the platform is the usage
// collector's job, not this one's.
func (p *Provisioner) GetBackendUsage(customerID string, backendID uint) (*models.UsageReport, error) {
	backend, err := p.registry.GetBackend(customerID, backendID)
	if err != nil {
		return nil, err
	}
	report := backend.Usage()
	return &report, nil
}
