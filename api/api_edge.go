package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
)

// EdgeProxy forwards verified requests, with the token segment already stripped, to the origin.
type EdgeProxy struct {
	proxy *httputil.ReverseProxy
}

func NewEdgeProxy(origin string) (*EdgeProxy, error) {
	target, err := url.Parse(origin)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid edge origin %q", origin)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		level.Error(global.Logger).Log("msg", "origin request failed", "uri", req.URL.Path, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return &EdgeProxy{proxy: proxy}, nil
}

func (ep *EdgeProxy) Serve(c *gin.Context) {
	ep.proxy.ServeHTTP(c.Writer, c.Request)
}
