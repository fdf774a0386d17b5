package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web/context"
)

// 允许的源列表，其它源不返回CORS头
var allowedOrigins = map[string]bool{
	"http://localhost:5173": true,
	"http://localhost:3000": true,
	"http://127.0.0.1:5173": true,
	"http://127.0.0.1:3000": true,
}

// AllowOrigin 追加允许的源
func AllowOrigin(origins ...string) {
	for _, origin := range origins {
		if origin != "" {
			allowedOrigins[origin] = true
		}
	}
}

// CORSMiddleware CORS中间件
func CORSMiddleware(ctx *context.Context) {
	origin := ctx.Input.Header("Origin")
	if origin == "" || !allowedOrigins[origin] {
		return
	}

	ctx.Output.Header("Access-Control-Allow-Origin", origin)
	ctx.Output.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	ctx.Output.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Origin")
	ctx.Output.Header("Access-Control-Max-Age", "3600")

	// 预检请求直接返回
	if ctx.Input.Method() == http.MethodOptions {
		ctx.Output.SetStatus(http.StatusNoContent)
		_ = ctx.Output.Body([]byte(""))
	}
}
