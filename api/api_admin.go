package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/queue"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
)

// AdminApi lets an operator trigger the scheduled jobs and inspect their state.
type AdminApi struct {
	tasks     queue.TaskEnqueuer
	rotation  *services.RotationService
	risk      *services.RiskService
	blockList *services.BlockList
}

func NewAdminApi(tasks queue.TaskEnqueuer, rotation *services.RotationService, risk *services.RiskService, blockList *services.BlockList) *AdminApi {
	return &AdminApi{
		tasks:     tasks,
		rotation:  rotation,
		risk:      risk,
		blockList: blockList,
	}
}

// Enqueue returns a handler that queues a task of the given type, at most once a minute
func (aa *AdminApi) Enqueue(taskType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskInfo, tqErr := queue.EnqueueOnce(aa.tasks, "admin", taskType, c.GetString(gin.AuthUserKey), time.Now(), time.Minute)
		if tqErr != nil {
			if queue.IsQueued(tqErr) {
				ApiErrorf(c, http.StatusConflict, "%s already queued", taskType)
				return
			}
			level.Error(global.Logger).Log("msg", "failed to queue task", "type", taskType, "error", tqErr)
			ApiErrorf(c, http.StatusInternalServerError, "failed to queue task")
			return
		}
		c.JSON(http.StatusAccepted, types.OutputTaskQueued{TaskID: taskInfo.ID, Type: taskType})
	}
}

// RotationStatus reports the current rotation state
func (aa *AdminApi) RotationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, types.OutputRotation{State: string(aa.rotation.State())})
}

// RiskQuery returns the scoring query a run would execute now
func (aa *AdminApi) RiskQuery(c *gin.Context) {
	c.String(http.StatusOK, aa.risk.Query())
}

// BlockList returns the rules currently enforced by the edge server
func (aa *AdminApi) BlockList(c *gin.Context) {
	c.JSON(http.StatusOK, aa.blockList.Rules())
}
