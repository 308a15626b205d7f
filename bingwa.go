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
	"embed"
	"time"

	"github.com/bingwapro/bingwa/config"
	"github.com/bingwapro/bingwa/database"
	redlock "github.com/bingwapro/bingwa/internal/lock"
	"github.com/bingwapro/bingwa/internal/mpesa"
	redis_db "github.com/bingwapro/bingwa/internal/redis-db"
	"github.com/bingwapro/bingwa/internal/ussdgateway"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("bingwa.service")

// PaymentGateway sends push payments to the mobile-money provider.
type PaymentGateway interface {
	PushPayment(ctx context.Context, req mpesa.StkPushRequest) (*mpesa.StkPushResponse, error)
}

// TaskQueue defers work to the background workers.
type TaskQueue interface {
	EnqueueWebhook(ctx context.Context, hook NewWebhook) error
	EnqueueCreditRetry(ctx context.Context, merchantRequestID string) error
}

// Bingwa wires payments, the USSD session engine and route health together.
type Bingwa struct {
	datasource database.IDataSource
	redis      redis.UniversalClient
	queue      TaskQueue
	payments   PaymentGateway
	ussd       ussdgateway.Gateway
	wallet     Wallet
	rules      *ruleCache
	config     *config.Configuration
	now        func() time.Time
}

// Option customises a Bingwa instance, mainly to swap external collaborators.
type Option func(*Bingwa)

func WithPaymentGateway(g PaymentGateway) Option {
	return func(b *Bingwa) { b.payments = g }
}

func WithUssdGateway(g ussdgateway.Gateway) Option {
	return func(b *Bingwa) { b.ussd = g }
}

func WithWallet(w Wallet) Option {
	return func(b *Bingwa) { b.wallet = w }
}

func WithQueue(q TaskQueue) Option {
	return func(b *Bingwa) { b.queue = q }
}

func WithRedis(client redis.UniversalClient) Option {
	return func(b *Bingwa) { b.redis = client }
}

func WithClock(now func() time.Time) Option {
	return func(b *Bingwa) { b.now = now }
}

// NewBingwa builds the service on db using the stored configuration. Collaborators
// not supplied through opts are built from configuration.
func NewBingwa(db database.IDataSource, opts ...Option) (*Bingwa, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	b := &Bingwa{
		datasource: db,
		config:     configuration,
		rules:      newRuleCache(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.redis == nil {
		redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		b.redis = redisClient.Client()
	}
	if b.queue == nil {
		q, err := NewQueue(configuration)
		if err != nil {
			return nil, err
		}
		b.queue = q
	}
	if b.payments == nil {
		b.payments = mpesa.NewClient(mpesa.OptionsFromConfig(configuration.Mpesa))
	}
	if b.ussd == nil {
		b.ussd = ussdgateway.New(configuration.Ussd)
	}
	if b.wallet == nil {
		b.wallet = NewDatasourceWallet(db)
	}
	b.registerSystemWebhooks()
	return b, nil
}

// Datasource exposes the underlying repository.
func (b *Bingwa) Datasource() database.IDataSource {
	return b.datasource
}

const (
	defaultLockHold = 30 * time.Second
	defaultLockWait = 10 * time.Second
)

func (b *Bingwa) lockDurations() (hold, wait time.Duration) {
	hold, wait = defaultLockHold, defaultLockWait
	if b.config.Lock.HoldTimeoutSec > 0 {
		hold = time.Duration(b.config.Lock.HoldTimeoutSec) * time.Second
	}
	if b.config.Lock.WaitTimeoutSec > 0 {
		wait = time.Duration(b.config.Lock.WaitTimeoutSec) * time.Second
	}
	return hold, wait
}

// withLock runs fn while holding the redis lock for key. The lock is refreshed
// while fn runs, so a slow gateway call cannot let a second holder in.
func (b *Bingwa) withLock(ctx context.Context, key string, fn func() error) error {
	hold, wait := b.lockDurations()
	locker := redlock.NewLocker(b.redis, key, uuid.NewString())
	if err := locker.WaitLock(ctx, hold, wait); err != nil {
		return err
	}
	defer func() {
		// Unlock may fail if the hold timeout elapsed; the key then expires on its own.
		_ = locker.Unlock(context.WithoutCancel(ctx))
	}()
	stop := locker.KeepAlive(ctx, hold)
	defer stop()
	return fn()
}

// clock returns the current time truncated to microseconds, matching what postgres stores.
func (b *Bingwa) clock() time.Time {
	return b.now().UTC().Truncate(time.Microsecond)
}
