package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/types"
)

type AssetApi struct {
	assets   repository.AssetCatalog
	validate *validator.Validate
}

func NewAssetApi(assets repository.AssetCatalog) *AssetApi {
	return &AssetApi{
		assets:   assets,
		validate: global.NewValidator(),
	}
}

// UpdatePolicy replaces the token policy of an asset
func (aa *AssetApi) UpdatePolicy(c *gin.Context) {
	id := c.Param("id")
	if err := aa.validate.Var(id, "required,max=200,word"); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid asset id")
		return
	}
	var input types.InputAssetPolicyUpdate
	if err := c.ShouldBindQuery(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
		return
	}
	if err := aa.validate.Struct(input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, bindingError(err))
		return
	}

	enabled := func(v *int) bool { return v != nil && *v == 1 }
	headers := []string{}
	if enabled(input.UA) {
		headers = append(headers, "user-agent")
	}
	if enabled(input.Referer) {
		headers = append(headers, "referer")
	}

	err := aa.assets.UpdatePolicyBindings(c.Request.Context(), id, enabled(input.IP), headers)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ApiErrorf(c, http.StatusNotFound, "asset not found")
			return
		}
		level.Error(global.Logger).Log("msg", "failed to update asset policy", "id", id, "error", err)
		ApiErrorf(c, http.StatusInternalServerError, "failed to update asset policy")
		return
	}
	c.JSON(http.StatusOK, types.OutputMessage{Message: "policy updated"})
}
