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

	"github.com/bingwapro/bingwa"
	model2 "github.com/bingwapro/bingwa/api/model"
	"github.com/bingwapro/bingwa/api/middleware"
	"github.com/bingwapro/bingwa/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (a Api) InitiateStkPush(c *gin.Context) {
	var req model2.StkPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateStkPush(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.bingwa.InitiatePayment(c.Request.Context(), req.AmountDecimal(), req.PhoneNumber, c.GetString(middleware.AgentIDKey), bingwa.InitiatePaymentOptions{
		AccountReference: req.AccountReference,
		TransactionDesc:  req.TransactionDesc,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// MpesaCallback always acknowledges; the gateway has no use for our errors.
func (a Api) MpesaCallback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		logrus.WithError(err).Warn("failed to read payment callback body")
		c.JSON(http.StatusOK, model.AcceptedCallbackAck())
		return
	}

	a.bingwa.HandlePaymentCallback(c.Request.Context(), raw)
	c.JSON(http.StatusOK, model.AcceptedCallbackAck())
}

func (a Api) GetPaymentStatus(c *gin.Context) {
	checkoutID, passed := c.Params.Get("checkoutId")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkoutId is required. pass id in the route /:checkoutId"})
		return
	}

	resp, err := a.bingwa.QueryPaymentStatus(c.Request.Context(), checkoutID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPaymentTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.bingwa.GetPaymentAttempt(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAgentTransactions(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		agentID = c.GetHeader(middleware.AgentHeader)
	}
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}

	resp, err := a.bingwa.GetAgentPayments(c.Request.Context(), agentID, queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) SimulateCallback(c *gin.Context) {
	checkoutID, passed := c.Params.Get("checkoutId")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checkoutId is required. pass id in the route /:checkoutId"})
		return
	}

	var req model2.SimulateCallback
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	outcome, err := a.bingwa.SimulateCallback(c.Request.Context(), checkoutID, req.Succeeds())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout_request_id": checkoutID, "outcome": outcome})
}
