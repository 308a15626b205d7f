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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bingwapro/bingwa/internal/apierror"
	"github.com/bingwapro/bingwa/model"
	"github.com/shopspring/decimal"
)

// CreditWallet records the credit reference and increments the balance in one transaction.
func (d Datasource) CreditWallet(ctx context.Context, agentID string, amount decimal.Decimal, reference string) (decimal.Decimal, bool, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO bingwa.wallet_credits (reference, agent_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reference) DO NOTHING
	`, reference, agentID, amount, now)
	if err != nil {
		return decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record wallet credit", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	if rowsAffected == 0 {
		var balance decimal.Decimal
		err = tx.QueryRowContext(ctx, `SELECT balance FROM bingwa.wallets WHERE agent_id = $1`, agentID).Scan(&balance)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read wallet balance", err)
		}
		return balance, false, nil
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bingwa.wallets (agent_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			balance = bingwa.wallets.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at
		RETURNING balance
	`, agentID, amount, now).Scan(&balance)
	if err != nil {
		return decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to credit wallet", err)
	}

	if err = tx.Commit(); err != nil {
		return decimal.Zero, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit wallet credit", err)
	}
	return balance, true, nil
}

func (d Datasource) GetWallet(ctx context.Context, agentID string) (*model.Wallet, error) {
	w := model.Wallet{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT agent_id, balance, created_at, updated_at FROM bingwa.wallets WHERE agent_id = $1
	`, agentID).Scan(&w.AgentID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet for agent '%s' not found", agentID), model.ErrWalletNotFound)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet", err)
	}
	return &w, nil
}
