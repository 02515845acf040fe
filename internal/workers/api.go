// Exposes task dispatch as REST APIs, one route per task type.

package workers

import (
	"Lantern/internal/errors"
	"Lantern/pkg/log"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Registers POST /api/<task>/run for every task type and GET /api/ops/workers onto the gin server.
// Heavy routes sit under the load-shedding prefixes, so pressure usually rejects them before they get here.
func APIHandlers(router gin.IRouter, pool *Pool, controller *Controller, taskTypes []string, logger log.Logger) {
	for _, taskType := range taskTypes {
		router.POST("/api/"+taskType+"/run", runTask(pool, taskType, logger))
	}
	router.GET("/api/ops/workers", workersStatus(pool, controller, taskTypes))
}

// Status is the ops view of the worker pool.
type Status struct {
	Paused  bool         `json:"paused"`
	Running int64        `json:"running"`
	Tasks   []TaskStatus `json:"tasks"`
}

type TaskStatus struct {
	Type  string `json:"type"`
	Heavy bool   `json:"heavy"`
}

func workersStatus(pool *Pool, controller *Controller, taskTypes []string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		status := Status{Paused: controller.Paused(), Running: pool.Running(), Tasks: make([]TaskStatus, 0, len(taskTypes))}
		for _, t := range taskTypes {
			status.Tasks = append(status.Tasks, TaskStatus{Type: t, Heavy: pool.Heavy(t)})
		}
		gctx.JSON(http.StatusOK, status)
	}
}

// runTask returns a handler which dispatches the request body as the task payload.
func runTask(pool *Pool, taskType string, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		payload, err := gctx.GetRawData()
		if err != nil {
			gctx.JSON(http.StatusBadRequest, errors.BadRequest("couldn't read the request body"))
			return
		}
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		if !json.Valid(payload) {
			gctx.JSON(http.StatusBadRequest, errors.BadRequest("payload must be a JSON document"))
			return
		}

		result, err := pool.Dispatch(gctx.Request.Context(), taskType, payload)
		if err != nil {
			resp := dispatchError(err)
			logger.WithCtx(gctx).Warn().Err(err).Str("task", taskType).Int("status", resp.StatusCode()).Msg("Task dispatch failed")
			gctx.JSON(resp.StatusCode(), resp)
			return
		}
		gctx.JSON(http.StatusOK, result)
	}
}

func dispatchError(err error) errors.ErrorResponse {
	switch {
	case stderrors.Is(err, ErrPaused):
		return errors.ServiceUnavailable(err.Error())
	case stderrors.Is(err, ErrUnknownTask):
		return errors.NotFound(err.Error())
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.ServiceUnavailable("task was cancelled before it finished")
	}
	return errors.InternalServerError("")
}
