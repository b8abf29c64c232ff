package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediashield/go-secure-media-server/global"
)

type HealthCheckAPI struct {
}

func NewHealthCheckAPI() *HealthCheckAPI {
	return &HealthCheckAPI{}
}

func (ha *HealthCheckAPI) HealthCheck(c *gin.Context) {
	version := global.Conf.Version
	mode := global.Conf.Mode
	stack := global.Conf.Secrets.StackName
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version, "mode": mode, "stack": stack})
}
