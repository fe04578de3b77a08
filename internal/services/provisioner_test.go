package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/easbase/backend/internal/config"
	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
	"github.com/easbase/backend/internal/security"
)

type stubManagementAPI struct {
	statuses    []models.ProjectStatus
	statusCalls int

	createErr  error
	keysErr    error
	deleteErr  error
	deleteRefs []string
	pauseRefs  []string
	resumeRefs []string
}

func (s *stubManagementAPI) CreateProject(ctx context.Context, name, plan, region, dbPassword string) (*platform.ProjectHandle, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &platform.ProjectHandle{Ref: "proj_123", Status: models.ProjectStatusComingUp}, nil
}

func (s *stubManagementAPI) GetProjectStatus(ctx context.Context, ref string) (models.ProjectStatus, error) {
	idx := s.statusCalls
	s.statusCalls++
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	if idx < 0 {
		return models.ProjectStatusComingUp, nil
	}
	return s.statuses[idx], nil
}

func (s *stubManagementAPI) GetAPIKeys(ctx context.Context, ref string) (*platform.APIKeys, error) {
	if s.keysErr != nil {
		return nil, s.keysErr
	}
	return &platform.APIKeys{AnonKey: "anon-key-123", ServiceRoleKey: "service-role-key-456"}, nil
}

func (s *stubManagementAPI) GetSettings(ctx context.Context, ref string) (*platform.ProjectSettings, error) {
	return &platform.ProjectSettings{JWTSecret: "jwt-secret", DatabaseHost: "db.proj_123.easbase.dev"}, nil
}

func (s *stubManagementAPI) PauseProject(ctx context.Context, ref string) error {
	s.pauseRefs = append(s.pauseRefs, ref)
	return nil
}

func (s *stubManagementAPI) ResumeProject(ctx context.Context, ref string) error {
	s.resumeRefs = append(s.resumeRefs, ref)
	return nil
}

func (s *stubManagementAPI) DeleteProject(ctx context.Context, ref string) error {
	s.deleteRefs = append(s.deleteRefs, ref)
	return s.deleteErr
}

type stubSchemaApplier struct {
	err    error
	calls  int
	gotSQL string
}

func (s *stubSchemaApplier) Apply(ctx context.Context, projectRef, serviceRoleKey, sqlText string) error {
	s.calls++
	s.gotSQL = sqlText
	return s.err
}

type stubRegistry struct {
	mu               sync.Mutex
	jobs             map[string]*models.ProvisionJob
	backends         []*models.CustomerBackend
	projects         []*models.ManagedProject
	saveBackendCalls int
	saveBackendErr   error
	nextID           uint
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{jobs: make(map[string]*models.ProvisionJob)}
}

func (s *stubRegistry) CreateJob(job *models.ProvisionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *stubRegistry) SaveJob(job *models.ProvisionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *stubRegistry) GetJob(customerID, jobID string) (*models.ProvisionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.CustomerID != customerID {
		return nil, platform.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *stubRegistry) ListUnreconciledJobs(olderThan time.Duration) ([]models.ProvisionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []models.ProvisionJob
	for _, job := range s.jobs {
		if job.State == models.JobFailed && !job.Reconciled && job.ProjectRef != "" {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (s *stubRegistry) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *stubRegistry) SaveBackend(project *models.ManagedProject, backend *models.CustomerBackend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveBackendCalls++
	if s.saveBackendErr != nil {
		return s.saveBackendErr
	}
	s.nextID++
	project.ID = s.nextID
	backend.ID = s.nextID
	backend.ProjectID = project.ID
	backend.Project = *project
	s.projects = append(s.projects, project)
	s.backends = append(s.backends, backend)
	return nil
}

func (s *stubRegistry) GetBackend(customerID string, backendID uint) (*models.CustomerBackend, error) {
	for _, backend := range s.backends {
		if backend.ID == backendID && backend.CustomerID == customerID {
			return backend, nil
		}
	}
	return nil, platform.ErrNotFound
}

func (s *stubRegistry) ListBackends(customerID string) ([]models.CustomerBackend, error) {
	var out []models.CustomerBackend
	for _, backend := range s.backends {
		if backend.CustomerID == customerID {
			out = append(out, *backend)
		}
	}
	return out, nil
}

func (s *stubRegistry) UpdateBackend(backend *models.CustomerBackend) error { return nil }

func (s *stubRegistry) UpdateProject(project *models.ManagedProject) error { return nil }

func (s *stubRegistry) SoftDeleteBackend(backend *models.CustomerBackend) error {
	for i, b := range s.backends {
		if b.ID == backend.ID {
			s.backends = append(s.backends[:i], s.backends[i+1:]...)
			break
		}
	}
	return nil
}

func testProvisioner(t *testing.T, api ManagementAPI, schema SchemaApplier, registry Registry) *Provisioner {
	t.Helper()
	vault, err := security.NewVault("test-passphrase")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	cfg := &config.Config{ProjectRegion: "us-east-1"}
	p := NewProvisioner(cfg, api, schema, vault, registry)
	p.pollInterval = 0
	p.pollAttempts = 5
	return p
}

func TestCreateBackendCompletes(t *testing.T) {
	api := &stubManagementAPI{statuses: []models.ProjectStatus{models.ProjectStatusComingUp, models.ProjectStatusHealthy}}
	schema := &stubSchemaApplier{}
	registry := newStubRegistry()
	p := testProvisioner(t, api, schema, registry)

	job := &models.ProvisionJob{ID: "job-1", CustomerID: "cust_1", State: models.JobRequested}
	if err := registry.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	backend, err := p.CreateBackend(context.Background(), job, "cust_1", "a@b.com", CreateBackendInput{
		Name:     "Test",
		Template: "ecommerce",
		Plan:     "free",
	})
	if err != nil {
		t.Fatalf("CreateBackend returned error: %v", err)
	}

	if job.State != models.JobComplete {
		t.Fatalf("expected job state complete, got %s", job.State)
	}
	if backend.Plan != models.PlanFree {
		t.Fatalf("expected plan free, got %s", backend.Plan)
	}
	if endpoints := p.Endpoints(backend); endpoints.API == "" {
		t.Fatal("expected non-empty API endpoint")
	}
	if schema.calls != 1 {
		t.Fatalf("expected 1 schema application, got %d", schema.calls)
	}
	if schema.gotSQL == "" {
		t.Fatal("expected rendered SQL to be passed to the schema applier")
	}

	if len(registry.projects) != 1 {
		t.Fatalf("expected 1 persisted project, got %d", len(registry.projects))
	}
	stored := registry.projects[0]
	if stored.ServiceRoleKeyEncrypted == "" || stored.ServiceRoleKeyEncrypted == "service-role-key-456" {
		t.Fatalf("service role key persisted in plaintext: %q", stored.ServiceRoleKeyEncrypted)
	}

	// The stored blob must decrypt back to the original key
	vault, _ := security.NewVault("test-passphrase")
	plain, err := vault.Decrypt(stored.ServiceRoleKeyEncrypted)
	if err != nil {
		t.Fatalf("Decrypt stored key: %v", err)
	}
	if plain != "service-role-key-456" {
		t.Fatalf("stored key decrypts to %q", plain)
	}

	if len(api.deleteRefs) != 0 {
		t.Fatalf("no cleanup expected on success, got deletes: %v", api.deleteRefs)
	}
}

func TestCreateBackendSchemaFailureSkipsPersist(t *testing.T) {
	api := &stubManagementAPI{statuses: []models.ProjectStatus{models.ProjectStatusHealthy}}
	schema := &stubSchemaApplier{err: &platform.SchemaApplicationError{ProjectRef: "proj_123", Err: errors.New("boom")}}
	registry := newStubRegistry()
	p := testProvisioner(t, api, schema, registry)

	job := &models.ProvisionJob{ID: "job-2", CustomerID: "cust_1", State: models.JobRequested}
	registry.CreateJob(job)

	_, err := p.CreateBackend(context.Background(), job, "cust_1", "a@b.com", CreateBackendInput{
		Name:     "Test",
		Template: "saas",
		Plan:     "free",
	})

	var schemaErr *platform.SchemaApplicationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaApplicationError, got %v", err)
	}
	if registry.saveBackendCalls != 0 {
		t.Fatalf("expected zero registry writes, got %d", registry.saveBackendCalls)
	}
	if job.State != models.JobFailed || job.ErrorCode != ErrCodeSchema {
		t.Fatalf("expected failed job with schema error code, got %s/%s", job.State, job.ErrorCode)
	}
	// Compensation must have torn down the remote project
	if len(api.deleteRefs) != 1 || api.deleteRefs[0] != "proj_123" {
		t.Fatalf("expected cleanup delete of proj_123, got %v", api.deleteRefs)
	}
}

func TestCreateBackendTimeoutLeavesProjectForReconciler(t *testing.T) {
	api := &stubManagementAPI{statuses: []models.ProjectStatus{models.ProjectStatusComingUp}}
	schema := &stubSchemaApplier{}
	registry := newStubRegistry()
	p := testProvisioner(t, api, schema, registry)
	p.pollAttempts = 3

	job := &models.ProvisionJob{ID: "job-3", CustomerID: "cust_1", State: models.JobRequested}
	registry.CreateJob(job)

	_, err := p.CreateBackend(context.Background(), job, "cust_1", "a@b.com", CreateBackendInput{
		Name: "Test",
		Plan: "free",
	})
	if !errors.Is(err, platform.ErrProvisionTimeout) {
		t.Fatalf("expected provision timeout, got %v", err)
	}

	if api.statusCalls != 3 {
		t.Fatalf("expected 3 status polls, got %d", api.statusCalls)
	}
	if job.ErrorCode != ErrCodeTimeout {
		t.Fatalf("expected timeout error code, got %s", job.ErrorCode)
	}
	// The project may still be coming up: no immediate delete
	if len(api.deleteRefs) != 0 {
		t.Fatalf("timed-out project must be left to the reconciler, got deletes: %v", api.deleteRefs)
	}

	orphans, err := registry.ListUnreconciledJobs(0)
	if err != nil {
		t.Fatalf("ListUnreconciledJobs: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ProjectRef != "proj_123" {
		t.Fatalf("expected one orphaned job for proj_123, got %+v", orphans)
	}
}

func TestCreateBackendCancellationCleansUp(t *testing.T) {
	api := &stubManagementAPI{statuses: []models.ProjectStatus{models.ProjectStatusComingUp}}
	schema := &stubSchemaApplier{}
	registry := newStubRegistry()
	p := testProvisioner(t, api, schema, registry)
	p.pollInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &models.ProvisionJob{ID: "job-4", CustomerID: "cust_1", State: models.JobRequested}
	registry.CreateJob(job)

	_, err := p.CreateBackend(ctx, job, "cust_1", "a@b.com", CreateBackendInput{
		Name: "Test",
		Plan: "free",
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.ErrorCode != ErrCodeCancelled {
		t.Fatalf("expected cancelled error code, got %s", job.ErrorCode)
	}
	// Best-effort cleanup of the remote project on cancellation
	if len(api.deleteRefs) != 1 {
		t.Fatalf("expected cleanup delete on cancellation, got %v", api.deleteRefs)
	}
}

func TestStartCreateBackendRejectsBadInput(t *testing.T) {
	registry := newStubRegistry()
	p := testProvisioner(t, &stubManagementAPI{}, &stubSchemaApplier{}, registry)

	if _, err := p.StartCreateBackend("cust_1", "a@b.com", CreateBackendInput{Plan: "free"}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := p.StartCreateBackend("cust_1", "a@b.com", CreateBackendInput{Name: "x", Plan: "starter"}); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
	if registry.jobCount() != 0 {
		t.Fatalf("no jobs should be recorded for rejected input, got %d", registry.jobCount())
	}
}

func TestStartCreateBackendDetachesJobFromWorkflow(t *testing.T) {
	api := &stubManagementAPI{statuses: []models.ProjectStatus{models.ProjectStatusHealthy}}
	registry := newStubRegistry()
	p := testProvisioner(t, api, &stubSchemaApplier{}, registry)

	job, err := p.StartCreateBackend("cust_1", "a@b.com", CreateBackendInput{
		Name: "Test",
		Plan: "free",
	})
	if err != nil {
		t.Fatalf("StartCreateBackend: %v", err)
	}
	if job.State != models.JobRequested {
		t.Fatalf("expected requested state in the 202 snapshot, got %s", job.State)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, err := registry.GetJob("cust_1", job.ID)
		if err == nil && stored.Terminal() {
			if stored.State != models.JobComplete {
				t.Fatalf("workflow failed: %s (%s)", stored.State, stored.ErrorCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("workflow did not reach a terminal state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The caller's snapshot must not be touched by the background workflow;
	// progress is observed through the registry only
	if job.State != models.JobRequested {
		t.Fatalf("returned job mutated by background workflow: %s", job.State)
	}
}

func TestPauseAndResumeBackend(t *testing.T) {
	api := &stubManagementAPI{statuses: []models.ProjectStatus{models.ProjectStatusHealthy}}
	registry := newStubRegistry()
	p := testProvisioner(t, api, &stubSchemaApplier{}, registry)

	backend := &models.CustomerBackend{CustomerID: "cust_1", Name: "Test"}
	project := &models.ManagedProject{ProjectRef: "proj_123", Status: models.ProjectStatusHealthy}
	registry.SaveBackend(project, backend)

	if err := p.PauseBackend(context.Background(), "cust_1", backend.ID); err != nil {
		t.Fatalf("PauseBackend: %v", err)
	}
	if len(api.pauseRefs) != 1 || api.pauseRefs[0] != "proj_123" {
		t.Fatalf("expected pause of proj_123, got %v", api.pauseRefs)
	}
	if backend.Project.Status != models.ProjectStatusPaused || backend.Project.PausedAt == nil {
		t.Fatalf("expected paused status with timestamp, got %s", backend.Project.Status)
	}

	if err := p.ResumeBackend(context.Background(), "cust_1", backend.ID); err != nil {
		t.Fatalf("ResumeBackend: %v", err)
	}
	if backend.Project.Status != models.ProjectStatusRestoring || backend.Project.PausedAt != nil {
		t.Fatalf("expected restoring status without pause timestamp, got %s", backend.Project.Status)
	}

	if err := p.PauseBackend(context.Background(), "cust_2", backend.ID); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected not found for foreign customer, got %v", err)
	}
}

func TestDeleteBackendSoftDeletesLocally(t *testing.T) {
	api := &stubManagementAPI{}
	registry := newStubRegistry()
	p := testProvisioner(t, api, &stubSchemaApplier{}, registry)

	backend := &models.CustomerBackend{CustomerID: "cust_1", Name: "Test"}
	project := &models.ManagedProject{ProjectRef: "proj_123", Status: models.ProjectStatusHealthy}
	registry.SaveBackend(project, backend)

	if err := p.DeleteBackend(context.Background(), "cust_1", backend.ID); err != nil {
		t.Fatalf("DeleteBackend: %v", err)
	}
	if len(api.deleteRefs) != 1 || api.deleteRefs[0] != "proj_123" {
		t.Fatalf("expected remote delete of proj_123, got %v", api.deleteRefs)
	}
	if backend.Project.Status != models.ProjectStatusDeleted || backend.Project.DeletedAt == nil {
		t.Fatalf("expected deleted status with timestamp, got %s", backend.Project.Status)
	}
	if _, err := registry.GetBackend("cust_1", backend.ID); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected backend gone from active set, got %v", err)
	}
}

func TestUpgradeBackendRewritesLimits(t *testing.T) {
	registry := newStubRegistry()
	p := testProvisioner(t, &stubManagementAPI{}, &stubSchemaApplier{}, registry)

	backend := &models.CustomerBackend{CustomerID: "cust_1", Name: "Test"}
	backend.ApplyPlan(models.PlanFree)
	registry.SaveBackend(&models.ManagedProject{ProjectRef: "proj_123"}, backend)

	upgraded, err := p.UpgradeBackend(context.Background(), "cust_1", backend.ID, models.PlanEnterprise)
	if err != nil {
		t.Fatalf("UpgradeBackend: %v", err)
	}
	if upgraded.Plan != models.PlanEnterprise || upgraded.LimitDatabaseMB != -1 {
		t.Fatalf("expected enterprise plan with unlimited database, got %s/%d", upgraded.Plan, upgraded.LimitDatabaseMB)
	}

	if _, err := p.UpgradeBackend(context.Background(), "cust_1", backend.ID, "business"); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestGetBackendUsagePercentages(t *testing.T) {
	registry := newStubRegistry()
	p := testProvisioner(t, &stubManagementAPI{}, &stubSchemaApplier{}, registry)

	backend := &models.CustomerBackend{CustomerID: "cust_1", Name: "Test"}
	backend.ApplyPlan(models.PlanFree)
	backend.UsageDatabaseMB = 256
	backend.UsageRequests = 100000
	registry.SaveBackend(&models.ManagedProject{ProjectRef: "proj_123"}, backend)

	report, err := p.GetBackendUsage("cust_1", backend.ID)
	if err != nil {
		t.Fatalf("GetBackendUsage: %v", err)
	}
	if report.Database.Percentage != 50 {
		t.Fatalf("expected 50%% database usage, got %v", report.Database.Percentage)
	}
	if report.Requests.Percentage != 100 {
		t.Fatalf("expected 100%% request usage, got %v", report.Requests.Percentage)
	}

	// Unlimited dimensions report zero percent
	backend.ApplyPlan(models.PlanEnterprise)
	report, _ = p.GetBackendUsage("cust_1", backend.ID)
	if report.Database.Percentage != 0 || report.Database.Limit != -1 {
		t.Fatalf("expected unlimited database dimension, got %+v", report.Database)
	}
}
