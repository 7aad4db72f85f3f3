package cardwatch

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"cardalert-backend/lib/scrapers/ecard"
)

// Store persists the notified-transaction log and the bot deployment
// state. Storage failures are fatal: losing the log silently would
// replay every notification in the retention window.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

func (s Store) LoadLog(ctx context.Context) (Set, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_time, op_unix, category, amount_cents, balance_cents, location
		FROM notified_transactions
	`)
	if err != nil {
		return nil, fmt.Errorf("loading transaction log: %w", err)
	}
	defer rows.Close()

	log := Set{}
	for rows.Next() {
		var t ecard.Transaction
		err := rows.Scan(&t.Time, &t.Unix, &t.Category, &t.Amount, &t.Balance, &t.Location)
		if err != nil {
			return nil, fmt.Errorf("loading transaction log: %w", err)
		}
		log.Add(t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading transaction log: %w", err)
	}
	return log, nil
}

// SaveLog rewrites the persisted log to exactly match the in-memory
// one, in a single transaction.
func (s Store) SaveLog(ctx context.Context, log Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving transaction log: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notified_transactions`); err != nil {
		return fmt.Errorf("saving transaction log: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notified_transactions
			(op_time, op_unix, category, amount_cents, balance_cents, location)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("saving transaction log: %w", err)
	}
	defer stmt.Close()

	for t := range log {
		_, err := stmt.ExecContext(ctx, t.Time, t.Unix, t.Category, t.Amount, t.Balance, t.Location)
		if err != nil {
			return fmt.Errorf("saving transaction log: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving transaction log: %w", err)
	}
	return nil
}

// DeployState is the binding between the bot and the single recipient
// chat, established by the deploy flow.
type DeployState struct {
	Deployed bool
	ChatID   int64
}

const (
	deployedKey = "tg_deployed"
	chatIDKey   = "tg_chat_id"
)

func (s Store) LoadDeployState(ctx context.Context) (DeployState, error) {
	state := DeployState{}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM deployment_state`)
	if err != nil {
		return state, fmt.Errorf("loading deploy state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return state, fmt.Errorf("loading deploy state: %w", err)
		}
		switch key {
		case deployedKey:
			state.Deployed = value == "1"
		case chatIDKey:
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return state, fmt.Errorf("loading deploy state: bad chat id %q", value)
			}
			state.ChatID = id
		}
	}
	if err := rows.Err(); err != nil {
		return state, fmt.Errorf("loading deploy state: %w", err)
	}
	return state, nil
}

// SaveDeployState writes both keys in one transaction so a failure
// can never leave the deployed flag set against a stale chat id.
func (s Store) SaveDeployState(ctx context.Context, state DeployState) error {
	deployed := "0"
	if state.Deployed {
		deployed = "1"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving deploy state: %w", err)
	}
	defer tx.Rollback()

	for key, value := range map[string]string{
		deployedKey: deployed,
		chatIDKey:   strconv.FormatInt(state.ChatID, 10),
	} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deployment_state (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return fmt.Errorf("saving deploy state: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving deploy state: %w", err)
	}
	return nil
}
