/*
Copyright 2024 Bingwa Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bingwapro/bingwa"
	"github.com/bingwapro/bingwa/api/middleware"
	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	bingwa *bingwa.Bingwa
	router *gin.Engine
	// guarded carries the rate limit and, in secure mode, the secret key check.
	guarded *gin.RouterGroup
	config  *config.Configuration
}

func (a Api) Router() *gin.Engine {
	// Daraja sends no credentials and retries on anything but 200.
	a.router.POST("/mpesa/callback", a.MpesaCallback)

	router := a.guarded

	mpesa := router.Group("/mpesa")
	mpesa.POST("/stkpush", middleware.AgentIdentity(), middleware.StkPushRateLimit(a.config.RateLimit.StkPushPerMinute), a.InitiateStkPush)
	mpesa.GET("/status/:checkoutId", a.GetPaymentStatus)
	mpesa.GET("/transactions/:id", a.GetPaymentTransaction)
	mpesa.GET("/transactions", a.GetAgentTransactions)
	mpesa.POST("/simulate/:checkoutId", a.SimulateCallback)

	ussd := router.Group("/ussd")
	ussd.POST("/execute", middleware.AgentIdentity(), a.ExecuteUssd)
	ussd.GET("/health", a.GetRouteHealth)
	ussd.POST("/routes", a.CreateRoute)
	ussd.GET("/routes", a.GetAllRoutes)
	ussd.GET("/routes/:id", a.GetRoute)
	ussd.PUT("/routes/:id", a.UpdateRoute)
	ussd.PATCH("/routes/:id/toggle", a.ToggleRoute)
	ussd.GET("/anomalies", a.GetAnomalies)
	ussd.PUT("/anomalies/:id/resolve", a.ResolveAnomaly)
	ussd.PUT("/anomalies/:id/status", a.UpdateAnomalyStatus)
	ussd.GET("/sessions/active", a.GetActiveSessions)
	ussd.GET("/sessions", a.GetSessionHistory)
	ussd.GET("/sessions/:id", a.GetSession)

	return a.router
}

func NewAPI(b *bingwa.Bingwa) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))

	guarded := r.Group("/", middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		guarded.Use(middleware.SecretKeyAuthMiddleware())
	}

	guarded.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Api{bingwa: b, router: r, guarded: guarded, config: conf}
}

// respondError writes err with the status its apierror code maps to.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// queryLimit reads ?limit=, returning 0 (the service default) when absent or malformed.
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
