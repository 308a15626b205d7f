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

package bingwa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/notification"
	"github.com/bingwapro/bingwa/internal/request"
	"github.com/bingwapro/bingwa/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Webhook events.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventSessionCompleted = "ussd.session.completed"
	EventSessionFailed    = "ussd.session.failed"
	EventAnomalyDetected  = "ussd.anomaly.detected"
)

// NewWebhook is the body posted to the configured webhook url.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

var webhookClient = &http.Client{Timeout: 30 * time.Second}

func paymentEvent(status model.PaymentStatus) string {
	if status == model.PaymentCompleted {
		return EventPaymentCompleted
	}
	return EventPaymentFailed
}

func (b *Bingwa) sendWebhook(ctx context.Context, event string, payload interface{}) {
	if err := b.queue.EnqueueWebhook(ctx, NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.WithError(err).WithField("event", event).Error("failed to enqueue webhook")
	}
}

func (b *Bingwa) sendPaymentWebhook(ctx context.Context, attempt *model.PaymentAttempt) {
	b.sendWebhook(ctx, paymentEvent(attempt.Status), attempt)
}

func (b *Bingwa) sendSessionWebhook(ctx context.Context, session *model.UssdSession) {
	switch session.Status {
	case model.SessionCompleted:
		b.sendWebhook(ctx, EventSessionCompleted, session)
	case model.SessionFailed:
		b.sendWebhook(ctx, EventSessionFailed, session)
	}
}

// registerSystemWebhooks routes system error notifications through the webhook queue.
func (b *Bingwa) registerSystemWebhooks() {
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return b.queue.EnqueueWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	})
}

// processHTTP posts one webhook. Non-2xx responses are errors so asynq retries them.
func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := request.CallWithClient(webhookClient, req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", data.Event, resp.StatusCode)
	}
	return nil
}

// ProcessWebhook is the worker handler for TypeWebhook.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logrus.WithField("event", payload.Event).Info("delivering webhook")
	return processHTTP(ctx, conf, payload)
}
