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
	"errors"
	"fmt"
	"time"

	"github.com/bingwapro/bingwa/config"
	redis_db "github.com/bingwapro/bingwa/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Task types handled by the workers.
const (
	TypeWebhook     = "bingwa:webhook"
	TypeCreditRetry = "bingwa:credit_retry"
	TypeCreditSweep = "bingwa:credit_sweep"
)

const creditRetryDelay = 30 * time.Second

// Queue enqueues background tasks on redis through asynq.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	config    *config.Configuration
}

type creditRetryPayload struct {
	MerchantRequestID string `json:"merchant_request_id"`
}

type creditSweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// RedisClientOpt converts the configured redis address into asynq options.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	opts, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		config:    conf,
	}, nil
}

// EnqueueWebhook queues a webhook delivery. It is a no-op when no webhook url is configured.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	if q.config.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	queue := q.config.Queue.WebhookQueue
	task := asynq.NewTask(TypeWebhook, payload, asynq.Queue(queue), asynq.MaxRetry(q.config.Queue.MaxRetryAttempts))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"event": hook.Event, "task_id": info.ID}).Debug("webhook enqueued")
	return nil
}

// EnqueueCreditRetry schedules a wallet credit retry for an attempt. Only one
// retry per attempt is queued at a time.
func (q *Queue) EnqueueCreditRetry(ctx context.Context, merchantRequestID string) error {
	payload, err := json.Marshal(creditRetryPayload{MerchantRequestID: merchantRequestID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeCreditRetry, payload,
		asynq.TaskID(fmt.Sprintf("credit:%s", merchantRequestID)),
		asynq.Queue(q.config.Queue.CreditRetryQueue),
		asynq.MaxRetry(q.config.Queue.MaxRetryAttempts),
		asynq.ProcessIn(creditRetryDelay),
	)
	_, err = q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// NewCreditSweepTask builds the periodic sweep task registered with the scheduler.
func NewCreditSweepTask(conf *config.Configuration) (*asynq.Task, error) {
	payload, err := json.Marshal(creditSweepPayload{BatchSize: conf.Queue.CreditSweepBatch})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCreditSweep, payload, asynq.Queue(conf.Queue.CreditRetryQueue), asynq.MaxRetry(0)), nil
}

// ProcessCreditRetry is the worker handler for TypeCreditRetry.
func (b *Bingwa) ProcessCreditRetry(ctx context.Context, task *asynq.Task) error {
	var p creditRetryPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if p.MerchantRequestID == "" {
		return fmt.Errorf("%w: missing merchant_request_id", asynq.SkipRetry)
	}

	if err := b.CreditAttempt(ctx, p.MerchantRequestID); err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	return nil
}

// ProcessCreditSweep is the worker handler for TypeCreditSweep.
func (b *Bingwa) ProcessCreditSweep(ctx context.Context, task *asynq.Task) error {
	var p creditSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}

	credited, err := b.RetryPendingCredits(ctx, p.BatchSize)
	logrus.WithField("credited", credited).Info("credit sweep finished")
	if err != nil {
		// Individual failures stay uncredited for the next sweep.
		logrus.WithError(err).Warn("credit sweep incomplete")
	}
	return nil
}

// RegisterHandlers wires every task type into mux.
func (b *Bingwa) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeWebhook, ProcessWebhook)
	mux.HandleFunc(TypeCreditRetry, b.ProcessCreditRetry)
	mux.HandleFunc(TypeCreditSweep, b.ProcessCreditSweep)
}
