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

	"github.com/bingwapro/bingwa/database"
	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Wallet is the agent balance capability the reconciler credits. Credit must be
// idempotent per reference.
type Wallet interface {
	Credit(ctx context.Context, agentID string, amount decimal.Decimal, reference string) (decimal.Decimal, error)
}

// DatasourceWallet credits agent wallets through the repository; 1 KES buys 1 token.
type DatasourceWallet struct {
	datasource database.IDataSource
}

func NewDatasourceWallet(db database.IDataSource) *DatasourceWallet {
	return &DatasourceWallet{datasource: db}
}

func (w *DatasourceWallet) Credit(ctx context.Context, agentID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apierror.NewAPIError(apierror.ErrInvalidInput, "credit amount must be positive", ErrInvalidAmount)
	}

	balance, applied, err := w.datasource.CreditWallet(ctx, agentID, amount, reference)
	if err != nil {
		return decimal.Zero, err
	}
	if !applied {
		logrus.WithFields(logrus.Fields{"agent_id": agentID, "reference": reference}).
			Info("wallet credit already applied for reference")
	}
	return balance, nil
}
