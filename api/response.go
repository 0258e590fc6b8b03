package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/types"
)

type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type TaskResponse struct {
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	NextRunTime time.Time `json:"next_run_time,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

type RunResponse struct {
	RunID       string                   `json:"run_id"`
	DAGName     string                   `json:"dag_name"`
	LogicalTime time.Time                `json:"logical_time"`
	Status      string                   `json:"status"`
	LastError   string                   `json:"last_error,omitempty"`
	StartTime   time.Time                `json:"start_time"`
	EndTime     time.Time                `json:"end_time,omitempty"`
	Tasks       map[string]*TaskResponse `json:"tasks"`
}

type DAGResponse struct {
	Name     string              `json:"name"`
	Order    []string            `json:"order"`
	Roots    []string            `json:"roots"`
	Leaves   []string            `json:"leaves"`
	Upstream map[string][]string `json:"upstream"`
}

type RunRequest struct {
	RunID       string     `json:"run_id"`
	LogicalTime *time.Time `json:"logical_time"`
	Params      types.Data `json:"params"`
}

func newRunResponse(s *types.RunStatus) *RunResponse {
	r := &RunResponse{
		RunID:       s.RunID,
		DAGName:     s.DAGName,
		LogicalTime: s.LogicalTime,
		Status:      s.Status.String(),
		LastError:   s.LastError,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Tasks:       make(map[string]*TaskResponse, len(s.Tasks)),
	}
	for name, task := range s.Tasks {
		r.Tasks[name] = &TaskResponse{
			Status:      task.Status.String(),
			Attempts:    task.Attempts,
			NextRunTime: task.NextRunTime,
			StartTime:   task.StartTime,
			EndTime:     task.EndTime,
			LastError:   task.LastError,
			ErrorKind:   task.ErrorKind,
		}
	}
	return r
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errors.BadRequest), errors.Is(err, errors.NotValid):
		return http.StatusBadRequest
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.MethodNotAllowed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func success(c *gin.Context, code int, data any) {
	c.JSON(code, &Response{Code: 0, Message: "success", Data: data})
}

func failure(c *gin.Context, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, errors.ErrorStack(err))
	}
	c.JSON(code, &Response{Code: code, Message: err.Error()})
}
