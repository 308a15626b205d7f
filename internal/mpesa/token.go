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

package mpesa

import (
	"context"
	"sync"
	"time"
)

// RefreshWindow is how long before expiry a cached token stops being served.
const RefreshWindow = 5 * time.Minute

// TokenFetcher obtains a fresh bearer token and its lifetime.
type TokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one OAuth bearer token for the process. Concurrent
// refreshes are allowed; the last one to finish wins.
type TokenCache struct {
	mu     sync.Mutex
	token  string
	expiry time.Time

	fetch TokenFetcher
	now   func() time.Time
}

func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{fetch: fetch, now: time.Now}
}

func (t *TokenCache) cached() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" || !t.now().Before(t.expiry.Add(-RefreshWindow)) {
		return "", false
	}
	return t.token, true
}

// GetValidToken returns the cached token while it is outside the refresh
// window, otherwise fetches and stores a new one.
func (t *TokenCache) GetValidToken(ctx context.Context) (string, error) {
	if token, ok := t.cached(); ok {
		return token, nil
	}

	token, ttl, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.token = token
	t.expiry = t.now().Add(ttl)
	t.mu.Unlock()
	return token, nil
}

// Invalidate drops the cached token so the next call refreshes.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiry = time.Time{}
	t.mu.Unlock()
}
