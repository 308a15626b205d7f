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

// Package ussdgateway sends dial strings and menu input to a USSD gateway.
package ussdgateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/request"
	"github.com/pkg/errors"
)

// Gateway executes one USSD exchange and returns the raw response text.
// An empty input opens the menu for dialString.
type Gateway interface {
	Send(ctx context.Context, dialString, input string) (string, error)
}

// ErrGateway marks failures talking to the USSD gateway.
var ErrGateway = errors.New("ussd gateway error")

// New returns the network gateway, or the simulator when simulation is on or
// no gateway url is configured.
func New(cfg config.UssdConfig) Gateway {
	if cfg.Simulate || cfg.GatewayURL == "" {
		return NewSimulator(DefaultRules())
	}
	return NewHTTPGateway(cfg.GatewayURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

type sendRequest struct {
	DialString string `json:"dialString"`
	Input      string `json:"input,omitempty"`
}

type sendResponse struct {
	Response string `json:"response"`
}

// HTTPGateway posts each exchange as JSON to a gateway endpoint.
type HTTPGateway struct {
	url    string
	client *http.Client
}

func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{url: strings.TrimRight(url, "/"), client: &http.Client{Timeout: timeout}}
}

func (g *HTTPGateway) Send(ctx context.Context, dialString, input string) (string, error) {
	payload, err := request.ToJsonReq(sendRequest{DialString: dialString, Input: input})
	if err != nil {
		return "", errors.Wrap(err, "encode ussd request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, payload)
	if err != nil {
		return "", errors.Wrap(err, "build ussd request")
	}

	var out sendResponse
	resp, err := request.CallWithClient(g.client, req, &out)
	if resp != nil && resp.StatusCode/100 != 2 {
		return "", errors.Wrapf(ErrGateway, "gateway returned %d", resp.StatusCode)
	}
	if err != nil {
		return "", errors.Wrapf(ErrGateway, "send %s: %v", dialString, err)
	}
	return out.Response, nil
}
