package model

import (
	"testing"

	"github.com/bingwapro/bingwa/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

func TestValidateStkPush(t *testing.T) {
	tests := []struct {
		name    string
		req     StkPushRequest
		wantErr bool
	}{
		{"valid", StkPushRequest{Amount: 100, PhoneNumber: "0712345678"}, false},
		{"missing amount", StkPushRequest{PhoneNumber: "0712345678"}, true},
		{"missing phone", StkPushRequest{Amount: 100}, true},
		{"reference too long", StkPushRequest{Amount: 100, PhoneNumber: "0712345678", AccountReference: "AGENT-1234567"}, true},
		{"description too long", StkPushRequest{Amount: 100, PhoneNumber: "0712345678", TransactionDesc: "Token purchase!"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.ValidateStkPush()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSimulateCallbackDefaultsToSuccess(t *testing.T) {
	assert.True(t, SimulateCallback{}.Succeeds())
	no := false
	assert.False(t, SimulateCallback{Success: &no}.Succeeds())
}

func TestValidateExecuteUssd(t *testing.T) {
	tests := []struct {
		name    string
		req     ExecuteUssd
		wantErr bool
	}{
		{"initiate", ExecuteUssd{Action: "initiate", RouteCode: "SAF_AIRTIME"}, false},
		{"initiate without route", ExecuteUssd{Action: "initiate"}, true},
		{"respond", ExecuteUssd{Action: "respond", SessionID: "ussd_1", Input: "1"}, false},
		{"respond without session", ExecuteUssd{Action: "respond", Input: "1"}, true},
		{"cancel without session", ExecuteUssd{Action: "cancel"}, true},
		{"unknown action", ExecuteUssd{Action: "dial", RouteCode: "SAF_AIRTIME"}, true},
		{"missing action", ExecuteUssd{RouteCode: "SAF_AIRTIME"}, true},
		{"bad mode", ExecuteUssd{Action: "initiate", RouteCode: "SAF_AIRTIME", ProcessingMode: "turbo"}, true},
		{"negative amount", ExecuteUssd{Action: "initiate", RouteCode: "SAF_AIRTIME", Amount: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.ValidateExecuteUssd()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestExecuteUssdToRequest(t *testing.T) {
	req := ExecuteUssd{
		Action:         "initiate",
		RouteCode:      "SAF_AIRTIME",
		Amount:         50,
		CustomerPhone:  "0712345678",
		ProcessingMode: "advanced",
	}

	out := req.ToRequest("agent-1")
	assert.Equal(t, "agent-1", out.AgentID)
	assert.Equal(t, "50", out.Amount.String())
	assert.Equal(t, model.ProcessingAdvanced, out.ProcessingMode)
}

func TestValidateCreateRoute(t *testing.T) {
	valid := CreateRoute{Code: "SAF_AIRTIME", Name: "Airtime", UssdString: "*140*{amount}#"}
	require.NoError(t, valid.ValidateCreateRoute())

	route := valid.ToRoute()
	assert.Equal(t, "*140*{amount}#", route.DialTemplate)

	missing := CreateRoute{Code: "SAF_AIRTIME", Name: "Airtime"}
	assert.Error(t, missing.ValidateCreateRoute())

	badMode := CreateRoute{Code: "SAF_AIRTIME", Name: "Airtime", UssdString: "*140#", ProcessingMode: "turbo"}
	assert.Error(t, badMode.ValidateCreateRoute())
}

func TestUpdateRouteToPatch(t *testing.T) {
	update := UpdateRoute{
		Name:           ptr.String("Airtime v2"),
		ProcessingMode: ptr.String("advanced"),
		Status:         ptr.String("degraded"),
	}
	require.NoError(t, update.ValidateUpdateRoute())

	patch := update.ToPatch()
	require.NotNil(t, patch.ProcessingMode)
	assert.Equal(t, model.ProcessingAdvanced, *patch.ProcessingMode)
	require.NotNil(t, patch.Status)
	assert.Equal(t, model.RouteDegraded, *patch.Status)
	assert.Nil(t, patch.DialTemplate)

	assert.Error(t, (&UpdateRoute{Status: ptr.String("broken")}).ValidateUpdateRoute())
	assert.Error(t, (&UpdateRoute{UssdString: ptr.String("")}).ValidateUpdateRoute())
}

func TestValidateAnomalyRequests(t *testing.T) {
	assert.Error(t, (&ResolveAnomaly{Notes: "fixed"}).ValidateResolveAnomaly())
	assert.NoError(t, (&ResolveAnomaly{ResolvedBy: "ops"}).ValidateResolveAnomaly())

	assert.NoError(t, (&UpdateAnomalyStatus{Status: "investigating"}).ValidateUpdateAnomalyStatus())
	assert.Error(t, (&UpdateAnomalyStatus{Status: "resolved"}).ValidateUpdateAnomalyStatus())
}
