package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
)

func TestReconcilerDeletesOrphanedProjects(t *testing.T) {
	api := &stubManagementAPI{}
	registry := newStubRegistry()

	registry.CreateJob(&models.ProvisionJob{
		ID:         "job-orphan",
		CustomerID: "cust_1",
		State:      models.JobFailed,
		ProjectRef: "proj_orphan",
		ErrorCode:  ErrCodeTimeout,
	})
	// Completed jobs must be left alone
	registry.CreateJob(&models.ProvisionJob{
		ID:         "job-done",
		CustomerID: "cust_1",
		State:      models.JobComplete,
		ProjectRef: "proj_ok",
		Reconciled: true,
	})

	reconciler := NewReconcilerService(api, registry, time.Minute)
	reconciler.sweep()

	if len(api.deleteRefs) != 1 || api.deleteRefs[0] != "proj_orphan" {
		t.Fatalf("expected delete of proj_orphan only, got %v", api.deleteRefs)
	}
	job, err := registry.GetJob("cust_1", "job-orphan")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !job.Reconciled {
		t.Fatal("expected orphaned job to be marked reconciled")
	}
}

func TestReconcilerKeepsJobOnDeleteFailure(t *testing.T) {
	api := &stubManagementAPI{deleteErr: &platform.TransientError{Op: "delete project", Err: errors.New("upstream down")}}
	registry := newStubRegistry()

	registry.CreateJob(&models.ProvisionJob{
		ID:         "job-orphan",
		CustomerID: "cust_1",
		State:      models.JobFailed,
		ProjectRef: "proj_orphan",
	})

	reconciler := NewReconcilerService(api, registry, time.Minute)
	reconciler.sweep()

	job, _ := registry.GetJob("cust_1", "job-orphan")
	if job.Reconciled {
		t.Fatal("job must stay unreconciled when remote cleanup fails")
	}

	// A later sweep retries and succeeds
	api.deleteErr = nil
	reconciler.sweep()

	job, _ = registry.GetJob("cust_1", "job-orphan")
	if !job.Reconciled {
		t.Fatal("expected job reconciled after successful retry")
	}
}

func TestReconcilerTreatsMissingProjectAsCleaned(t *testing.T) {
	api := &stubManagementAPI{deleteErr: fmt.Errorf("delete project: %w", platform.ErrNotFound)}
	registry := newStubRegistry()

	registry.CreateJob(&models.ProvisionJob{
		ID:         "job-orphan",
		CustomerID: "cust_1",
		State:      models.JobFailed,
		ProjectRef: "proj_gone",
	})

	reconciler := NewReconcilerService(api, registry, time.Minute)
	reconciler.sweep()

	job, _ := registry.GetJob("cust_1", "job-orphan")
	if !job.Reconciled {
		t.Fatal("expected job reconciled when project is already gone")
	}
}
