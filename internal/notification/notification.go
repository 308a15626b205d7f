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

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/internal/request"
	"github.com/sirupsen/logrus"
)

// WebhookSender delivers an event to the configured webhook endpoint.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// RegisterWebhookSender installs the sender used for system events. The service
// registers its queue-backed sender at startup; a later call replaces it.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

func slackMessage(title string, err error, at time.Time) json.RawMessage {
	body := map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": title, "emoji": true},
			},
			map[string]interface{}{
				"type": "section",
				"fields": []interface{}{
					map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*Error:*\n%v", err)},
				},
			},
			map[string]interface{}{
				"type": "section",
				"fields": []interface{}{
					map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))},
				},
			},
		},
	}
	raw, _ := json.Marshal(body)
	return raw
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) {
	conf, cErr := config.Fetch()
	if cErr != nil {
		logrus.Error(cErr)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	payload, pErr := request.ToJsonReq(slackMessage("Error From Bingwa 🐞", err, time.Now()))
	if pErr != nil {
		logrus.Error(pErr)
		return
	}

	req, rErr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if rErr != nil {
		logrus.Error(rErr)
		return
	}

	// Slack answers with plain text "ok".
	if _, dErr := request.Call(req, nil); dErr != nil {
		logrus.Error(dErr)
	}
}

// NotifyError logs systemError and forwards it to Slack and the webhook sender
// without blocking the caller.
func NotifyError(systemError error) {
	go notify(systemError)
}

func notify(systemError error) {
	logrus.Error(systemError)

	SlackNotification(systemError)

	if sender := currentSender(); sender != nil {
		err := sender("system.error", map[string]interface{}{
			"error": systemError.Error(),
			"time":  time.Now().UTC(),
		})
		if err != nil {
			logrus.WithError(err).Warn("failed to forward system error webhook")
		}
	}
}
