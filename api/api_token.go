package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	apiutil "github.com/mediashield/go-secure-media-server/api/util"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/metrics"
	"github.com/mediashield/go-secure-media-server/repository"
	"github.com/mediashield/go-secure-media-server/services"
	"github.com/mediashield/go-secure-media-server/types"
)

type TokenApi struct {
	tokenService *services.TokenService
	assets       repository.AssetCatalog
	viewers      *apiutil.ViewerResolver
	validate     *validator.Validate
}

func NewTokenApi(tokenService *services.TokenService, assets repository.AssetCatalog, viewers *apiutil.ViewerResolver) *TokenApi {
	return &TokenApi{
		tokenService: tokenService,
		assets:       assets,
		viewers:      viewers,
		validate:     global.NewValidator(),
	}
}

// GenerateToken issues a playback token for the asset or playback url in the request
func (ta *TokenApi) GenerateToken(c *gin.Context) {
	var input types.InputTokenRequest
	if err := c.ShouldBindQuery(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid request")
		return
	}
	if err := ta.validate.Struct(input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, bindingError(err))
		return
	}

	asset, err := ta.assets.GetAsset(c.Request.Context(), input.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ApiErrorf(c, http.StatusNotFound, "asset not found")
			return
		}
		level.Error(global.Logger).Log("msg", "failed to load asset", "id", input.ID, "error", err)
		ApiErrorf(c, http.StatusInternalServerError, "failed to load asset")
		return
	}

	attrs := ta.viewers.Attributes(c)
	delete(attrs.QueryStrings, "id")

	playbackUrl, err := ta.tokenService.Generate(c.Request.Context(), attrs, asset.PlaybackURL(), asset.TokenPolicy, "")
	if err != nil {
		switch {
		case errors.Is(err, types.ErrPolicyViolation), errors.Is(err, types.ErrInvalidExpiry),
			errors.Is(err, types.ErrInvalidIP), errors.Is(err, types.ErrBadRequest):
			ApiErrorf(c, http.StatusBadRequest, "%s", err.Error())
		default:
			level.Error(global.Logger).Log("msg", "failed to generate token", "id", input.ID, "error", err)
			ApiErrorf(c, http.StatusInternalServerError, "failed to generate token")
		}
		return
	}
	metrics.TokensIssuedTotal.Inc()

	c.JSON(http.StatusOK, types.OutputPlaybackUrl{PlaybackUrl: playbackUrl})
}
