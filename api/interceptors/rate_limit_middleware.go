package interceptors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	apiutil "github.com/mediashield/go-secure-media-server/api/util"
	"github.com/mediashield/go-secure-media-server/global"
)

const (
	LimitRequestsPerSecond      = 5
	LimitTokenRequestsPerSecond = 2
)

// RateLimitMiddleware limits requests per viewer fingerprint (ip, user agent, language, referer).
// Token generation has its own tighter bucket.
func RateLimitMiddleware(viewers *apiutil.ViewerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if global.RateLimiter == nil {
			c.Next()
			return
		}
		ip := viewers.ViewerIP(c)
		userAgent := c.GetHeader("User-Agent")
		acceptLanguage := c.GetHeader("Accept-Language")
		referer := c.GetHeader("Referer")
		all := fmt.Sprintf("%s%s%s%s", ip, userAgent, acceptLanguage, referer)

		limit := LimitRequestsPerSecond
		if c.FullPath() == "/api/v1/token" {
			limit = LimitTokenRequestsPerSecond
			all = fmt.Sprintf("%s%s", all, "_token")
		}

		hash := xxhash.Sum64String(all)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		result, err := global.RateLimiter.Allow(ctx, strconv.FormatUint(hash, 10), redis_rate.PerSecond(limit))
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, errors.New("failed to perform rate limit check"))
			return
		}
		if result.Allowed <= 0 {
			c.AbortWithError(http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit.Rate))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(result.ResetAfter.Milliseconds())))
		c.Next()
	}
}
