package rest_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// allowCORSMiddleware lets browser dashboards on other origins read the reports
func allowCORSMiddleware(ctx *gin.Context) {
	headerMap := ctx.Writer.Header()
	headerMap.Set("Access-Control-Allow-Origin", "*")
	headerMap.Set("Access-Control-Allow-Credentials", "true")
	headerMap.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
	headerMap.Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if ctx.Request.Method == http.MethodOptions {
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}

	ctx.Next()
}
