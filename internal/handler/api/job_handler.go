package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// JobRunner exposes the scheduled sweeps for manual triggering.
type JobRunner interface {
	RunDailySweep()
	RunTestCleanup()
}

// JobHandler lets an operator kick the maintenance sweeps off-schedule.
type JobHandler struct {
	jobs   JobRunner
	logger *zap.Logger
}

func NewJobHandler(jobs JobRunner, logger *zap.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

// DailySweep runs the daily subscription sweep in the background.
func (h *JobHandler) DailySweep(c echo.Context) error {
	h.logger.Info("daily sweep triggered manually")
	go h.jobs.RunDailySweep()
	return successResponse(c, "Daily sweep started", nil)
}

// TestCleanup runs the test-account cleanup in the background.
func (h *JobHandler) TestCleanup(c echo.Context) error {
	h.logger.Info("test account cleanup triggered manually")
	go h.jobs.RunTestCleanup()
	return successResponse(c, "Test account cleanup started", nil)
}
