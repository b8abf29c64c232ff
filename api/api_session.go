package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
)

type SessionApi struct {
	revocationService *services.RevocationService
	validate          *validator.Validate
}

func NewSessionApi(revocationService *services.RevocationService) *SessionApi {
	return &SessionApi{
		revocationService: revocationService,
		validate:          global.NewValidator(),
	}
}

// Revoke records a manual revocation for a session
func (sa *SessionApi) Revoke(c *gin.Context) {
	var input types.InputRevokeSession
	if err := c.ShouldBindQuery(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
		return
	}
	if err := sa.validate.Struct(input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, bindingError(err))
		return
	}

	record, err := sa.revocationService.RevokeManual(c.Request.Context(), input.SessionID)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to revoke session")
		return
	}
	c.JSON(http.StatusOK, record)
}
