package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/screenshot"
	"github.com/browsecore/browseserver/internal/store"
)

// Server mounts the task-control, progress-streaming, and screenshot
// surfaces of §6 that live outside the single JSON-RPC endpoint.
type Server struct {
	tasks    *store.TaskStore
	bus      *eventbus.Bus
	pipeline *screenshot.Pipeline
}

// NewServer wires a Server against the shared Task Store, Event Bus, and
// Screenshot Pipeline instances the rest of the process uses.
func NewServer(tasks *store.TaskStore, bus *eventbus.Bus, pipeline *screenshot.Pipeline) *Server {
	return &Server{tasks: tasks, bus: bus, pipeline: pipeline}
}

// Register mounts every route onto engine.
func (s *Server) Register(engine *gin.Engine) {
	v1 := engine.Group("/v1/tasks")
	v1.GET("/:id", s.getTask)
	v1.POST("/:id/cancel", s.cancelTask)
	v1.GET("/:id/events", s.streamEvents)

	engine.GET("/screenshots/:filename", s.getScreenshot)
}

func (s *Server) getTask(c *gin.Context) {
	detail, err := s.tasks.Fetch(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskDTO(detail))
}

func (s *Server) cancelTask(c *gin.Context) {
	taskID := c.Param("id")

	detail, err := s.tasks.Fetch(c.Request.Context(), taskID)
	if err != nil {
		writeError(c, err)
		return
	}

	if detail.Task.Status.Terminal() {
		writeError(c, apperr.Newf(apperr.IllegalTransition, "task %s is already %s", taskID, detail.Task.Status))
		return
	}

	updated, err := s.tasks.Transition(c.Request.Context(), taskID, detail.Task.Status, store.TaskCancelled, store.TransitionFields{})
	if err != nil {
		writeError(c, err)
		return
	}

	s.bus.Publish(taskID, eventbus.EventTaskEnded, eventbus.TaskEndedData{
		TerminalStatus: string(store.TaskCancelled),
		EndedAt:        *updated.EndedAt,
		StepsCompleted: updated.CurrentStep,
	})

	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": string(store.TaskCancelled)})
}

// httpStatus maps an apperr.Kind onto the REST status code a careful client
// would expect; the JSON-RPC surface instead carries the kind in a numeric
// error code (see internal/rpcserver).
func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.TaskNotFound, apperr.UnknownTool:
		return http.StatusNotFound
	case apperr.InvalidArguments:
		return http.StatusBadRequest
	case apperr.IllegalTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(httpStatus(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}
