package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
)

// ReconcilerService sweeps failed provisioning jobs and deletes the remote
// projects they left behind. A project is an orphan when its job failed
// after remote creation but before the registry row was persisted.
type ReconcilerService struct {
	api      ManagementAPI
	registry Registry
	interval time.Duration

	// Jobs younger than this are skipped; a timed-out project may still be
	// coming up and could yet be adopted by a retry.
	minAge time.Duration

	stopChan chan struct{}
}

// NewReconcilerService creates a new orphan reconciler
func NewReconcilerService(api ManagementAPI, registry Registry, interval time.Duration) *ReconcilerService {
	return &ReconcilerService{
		api:      api,
		registry: registry,
		interval: interval,
		minAge:   15 * time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start runs the reconciliation loop until Stop is called
func (s *ReconcilerService) Start() {
	log.Printf("ReconcilerService started, sweeping every %v", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep
	s.sweep()

	for {
		select {
		case <-s.stopChan:
			log.Println("ReconcilerService stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Stop stops the reconciler
func (s *ReconcilerService) Stop() {
	close(s.stopChan)
}

// sweep deletes remote projects belonging to failed, unreconciled jobs
func (s *ReconcilerService) sweep() {
	jobs, err := s.registry.ListUnreconciledJobs(s.minAge)
	if err != nil {
		log.Printf("Reconciler: failed to load orphaned jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	log.Printf("Reconciler: found %d orphaned project(s)", len(jobs))
	for i := range jobs {
		s.reconcile(&jobs[i])
	}
}

func (s *ReconcilerService) reconcile(job *models.ProvisionJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.api.DeleteProject(ctx, job.ProjectRef)
	switch {
	case err == nil:
		log.Printf("Reconciler: deleted orphaned project %s (job %s)", job.ProjectRef, job.ID)
	case errors.Is(err, platform.ErrNotFound):
		// Already gone; nothing left to clean
		log.Printf("Reconciler: orphaned project %s already deleted (job %s)", job.ProjectRef, job.ID)
	default:
		// Keep the job unreconciled and retry on the next sweep
		log.Printf("Reconciler: failed to delete orphaned project %s: %v", job.ProjectRef, err)
		return
	}

	job.Reconciled = true
	if err := s.registry.SaveJob(job); err != nil {
		log.Printf("Reconciler: failed to mark job %s reconciled: %v", job.ID, err)
	}
}
