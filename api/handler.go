package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/types"
)

const dotContentType = "text/vnd.graphviz; charset=utf-8"

type Handler struct {
	engine    types.Engine
	version   string
	startTime time.Time
	now       func() time.Time
}

func NewHandler(engine types.Engine, version string) *Handler {
	return &Handler{engine: engine, version: version, startTime: time.Now(), now: time.Now}
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	success(c, http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// GET /api/v1/dags
func (h *Handler) ListDAGs(c *gin.Context) {
	names, err := h.engine.ListDAGNames()
	if err != nil {
		failure(c, err)
		return
	}
	success(c, http.StatusOK, names)
}

// GET /api/v1/dags/:name
func (h *Handler) GetDAG(c *gin.Context) {
	name := c.Param("name")
	dag, exists := h.engine.GetDAG(name)
	if !exists {
		failure(c, errors.NotFoundf("DAG: %s", name))
		return
	}
	order, err := dag.TopologicalOrder()
	if err != nil {
		failure(c, err)
		return
	}

	upstream := make(map[string][]string, len(order))
	for _, task := range order {
		upstream[task] = dag.Upstream(task)
	}
	success(c, http.StatusOK, &DAGResponse{
		Name:     name,
		Order:    order,
		Roots:    dag.Roots(),
		Leaves:   dag.Leaves(),
		Upstream: upstream,
	})
}

// GET /api/v1/dags/:name/graph
func (h *Handler) RenderDAG(c *gin.Context) {
	dot, err := h.engine.RenderDAG(c.Param("name"))
	if err != nil {
		failure(c, err)
		return
	}
	c.Data(http.StatusOK, dotContentType, []byte(dot))
}

// POST /api/v1/dags/:name/runs
// The run id defaults to a uuid and the logical time to the start of the
// previous hour.
func (h *Handler) StartRun(c *gin.Context) {
	req := &RunRequest{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			failure(c, errors.NewBadRequest(err, "run request"))
			return
		}
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	logicalTime := h.now().UTC().Truncate(time.Hour).Add(-time.Hour)
	if req.LogicalTime != nil {
		logicalTime = req.LogicalTime.UTC()
	}

	if err := h.engine.RunDAG(c.Request.Context(), c.Param("name"), req.RunID, logicalTime, req.Params); err != nil {
		failure(c, err)
		return
	}
	success(c, http.StatusAccepted, gin.H{"run_id": req.RunID, "logical_time": logicalTime})
}

// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	status, err := h.engine.GetRunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure(c, err)
		return
	}
	success(c, http.StatusOK, newRunResponse(status))
}

// GET /api/v1/runs/:id/graph
func (h *Handler) RenderRun(c *gin.Context) {
	dot, err := h.engine.RenderRunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		failure(c, err)
		return
	}
	c.Data(http.StatusOK, dotContentType, []byte(dot))
}

// POST /api/v1/runs/:id/terminate
func (h *Handler) TerminateRun(c *gin.Context) {
	runID := c.Param("id")
	if err := h.engine.TerminateRun(c.Request.Context(), runID); err != nil {
		failure(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"run_id": runID})
}
