package handlers

import (
	"errors"
	"log"

	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
	"github.com/easbase/backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// BackendHandler serves the dashboard-facing backend management API
type BackendHandler struct {
	provisioner *services.Provisioner
	registry    services.Registry
}

// NewBackendHandler creates a new backend handler
func NewBackendHandler(provisioner *services.Provisioner, registry services.Registry) *BackendHandler {
	return &BackendHandler{
		provisioner: provisioner,
		registry:    registry,
	}
}

func customerID(c *fiber.Ctx) string {
	id, _ := c.Locals("customer_id").(string)
	return id
}

func customerEmail(c *fiber.Ctx) string {
	email, _ := c.Locals("customer_email").(string)
	return email
}

// backendResponse strips credentials and attaches derived endpoints
func (h *BackendHandler) backendResponse(backend *models.CustomerBackend) fiber.Map {
	return fiber.Map{
		"id":         backend.ID,
		"name":       backend.Name,
		"plan":       backend.Plan,
		"template":   backend.Template,
		"status":     backend.Project.Status,
		"region":     backend.Project.Region,
		"endpoints":  h.provisioner.Endpoints(backend),
		"created_at": backend.CreatedAt,
	}
}

// CreateBackend accepts a provisioning request and returns 202 with a job
// ID. Provisioning runs in the background; the dashboard polls the job.
func (h *BackendHandler) CreateBackend(c *fiber.Ctx) error {
	var input services.CreateBackendInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	job, err := h.provisioner.StartCreateBackend(customerID(c), customerEmail(c), input)
	if err != nil {
		if errors.Is(err, services.ErrInvalidName) || errors.Is(err, services.ErrInvalidPlan) {
			return c.Status(400).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		log.Printf("BackendHandler: failed to start provisioning: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"message": "Failed to create backend. Please try again.",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Backend provisioning started",
		"data": fiber.Map{
			"job_id": job.ID,
			"status": job.State,
		},
	})
}

// GetJob reports the state of a provisioning job. Error details stay in the
// server logs; the caller only sees the error code.
func (h *BackendHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.registry.GetJob(customerID(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{
				"success": false,
				"message": "Job not found",
			})
		}
		log.Printf("BackendHandler: failed to load job: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"message": "Failed to load job",
		})
	}

	data := fiber.Map{
		"job_id": job.ID,
		"state":  job.State,
	}
	if job.BackendID != nil {
		data["backend_id"] = *job.BackendID
	}
	if job.State == models.JobFailed {
		data["error_code"] = job.ErrorCode
		if job.ErrorCode == services.ErrCodeTimeout {
			data["message"] = "Backend is still provisioning, check back shortly"
		} else {
			data["message"] = "Failed to create backend. Please try again."
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// ListBackends returns the customer's backends
func (h *BackendHandler) ListBackends(c *fiber.Ctx) error {
	backends, err := h.registry.ListBackends(customerID(c))
	if err != nil {
		log.Printf("BackendHandler: failed to list backends: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"message": "Failed to list backends",
		})
	}

	items := make([]fiber.Map, 0, len(backends))
	for i := range backends {
		items = append(items, h.backendResponse(&backends[i]))
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    items,
	})
}

// GetBackend returns one backend's details, without credentials
func (h *BackendHandler) GetBackend(c *fiber.Ctx) error {
	backendID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backend ID",
		})
	}

	backend, err := h.registry.GetBackend(customerID(c), uint(backendID))
	if err != nil {
		return h.respondError(c, err, "Failed to load backend")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.backendResponse(backend),
	})
}

// GetUsage reports usage against plan limits per dimension
func (h *BackendHandler) GetUsage(c *fiber.Ctx) error {
	backendID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backend ID",
		})
	}

	report, err := h.provisioner.GetBackendUsage(customerID(c), uint(backendID))
	if err != nil {
		return h.respondError(c, err, "Failed to load usage")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    report,
	})
}

// PauseBackend suspends a backend's remote project
func (h *BackendHandler) PauseBackend(c *fiber.Ctx) error {
	backendID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backend ID",
		})
	}

	if err := h.provisioner.PauseBackend(c.UserContext(), customerID(c), uint(backendID)); err != nil {
		return h.respondError(c, err, "Failed to pause backend")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backend paused",
	})
}

// ResumeBackend restores a paused backend
func (h *BackendHandler) ResumeBackend(c *fiber.Ctx) error {
	backendID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backend ID",
		})
	}

	if err := h.provisioner.ResumeBackend(c.UserContext(), customerID(c), uint(backendID)); err != nil {
		return h.respondError(c, err, "Failed to resume backend")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backend resuming",
	})
}

// UpgradeBackend changes a backend's plan tier
func (h *BackendHandler) UpgradeBackend(c *fiber.Ctx) error {
	backendID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backend ID",
		})
	}

	var body struct {
		Plan string `json:"plan"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	backend, err := h.provisioner.UpgradeBackend(c.UserContext(), customerID(c), uint(backendID), models.PlanTier(body.Plan))
	if err != nil {
		if errors.Is(err, services.ErrInvalidPlan) {
			return c.Status(400).JSON(fiber.Map{
				"success": false,
				"message": "Unknown plan tier",
			})
		}
		return h.respondError(c, err, "Failed to upgrade backend")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backend upgraded",
		"data":    h.backendResponse(backend),
	})
}

// DeleteBackend destroys the remote project and soft-deletes the record
func (h *BackendHandler) DeleteBackend(c *fiber.Ctx) error {
	backendID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backend ID",
		})
	}

	if err := h.provisioner.DeleteBackend(c.UserContext(), customerID(c), uint(backendID)); err != nil {
		return h.respondError(c, err, "Failed to delete backend")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backend deleted",
	})
}

// respondError maps operational errors to HTTP responses. Upstream detail is
// logged server-side and scrubbed from the caller-facing message.
func (h *BackendHandler) respondError(c *fiber.Ctx, err error, scrubbed string) error {
	if errors.Is(err, platform.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"success": false,
			"message": "Backend not found",
		})
	}

	log.Printf("BackendHandler: %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(500).JSON(fiber.Map{
		"success": false,
		"message": scrubbed,
	})
}
