/*
Copyright 2024 Blnk Finance Authors.

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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/recon"
	"github.com/blnkfinance/recon/api/middleware"
	"github.com/blnkfinance/recon/config"
)

type Api struct {
	recon  *recon.Recon
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/rules", a.CreateMatchingRule)
	router.GET("/rules", a.GetMatchingRules)
	router.GET("/rules/:id", a.GetMatchingRule)
	router.PUT("/rules/:id", a.UpdateMatchingRule)
	router.DELETE("/rules/:id", a.DeactivateMatchingRule)

	router.POST("/rules/:id/execute", a.ExecuteRule)
	router.GET("/runs/:id", a.GetRun)
	router.GET("/runs/:id/transactions", a.GetRunTransactions)

	router.POST("/ingestion", a.Ingest)
	return a.router
}

func NewAPI(r *recon.Recon) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logrus.StandardLogger()))
	router.Use(otelgin.Middleware(conf.ProjectName))
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{recon: r, router: router}
}
