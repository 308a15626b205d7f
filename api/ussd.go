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
	"net/http"

	model2 "github.com/bingwapro/bingwa/api/model"
	"github.com/bingwapro/bingwa/api/middleware"
	"github.com/bingwapro/bingwa/model"
	"github.com/gin-gonic/gin"
)

func (a Api) ExecuteUssd(c *gin.Context) {
	var req model2.ExecuteUssd
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateExecuteUssd(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bingwa.ExecuteUssd(c.Request.Context(), req.ToRequest(c.GetString(middleware.AgentIDKey)))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetRouteHealth(c *gin.Context) {
	resp, err := a.bingwa.GetRouteHealth(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) CreateRoute(c *gin.Context) {
	var newRoute model2.CreateRoute
	if err := c.ShouldBindJSON(&newRoute); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := newRoute.ValidateCreateRoute(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bingwa.CreateRoute(c.Request.Context(), newRoute.ToRoute())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAllRoutes(c *gin.Context) {
	resp, err := a.bingwa.ListRoutes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetRoute(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.bingwa.GetRoute(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateRoute(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var update model2.UpdateRoute
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := update.ValidateUpdateRoute(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bingwa.UpdateRoute(c.Request.Context(), id, update.ToPatch())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ToggleRoute(c *gin.Context) {
	resp, err := a.bingwa.ToggleRoute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAnomalies(c *gin.Context) {
	resp, err := a.bingwa.ListAnomalies(c.Request.Context(), model.AnomalyStatus(c.Query("status")), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) ResolveAnomaly(c *gin.Context) {
	var req model2.ResolveAnomaly
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateResolveAnomaly(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bingwa.ResolveAnomaly(c.Request.Context(), c.Param("id"), req.Notes, req.ResolvedBy)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) UpdateAnomalyStatus(c *gin.Context) {
	var req model2.UpdateAnomalyStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateUpdateAnomalyStatus(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bingwa.UpdateAnomalyStatus(c.Request.Context(), c.Param("id"), model.AnomalyStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetActiveSessions(c *gin.Context) {
	resp, err := a.bingwa.GetActiveSessions(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetSessionHistory(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		agentID = c.GetHeader(middleware.AgentHeader)
	}

	resp, err := a.bingwa.GetSessionHistory(c.Request.Context(), agentID, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetSession(c *gin.Context) {
	resp, err := a.bingwa.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
