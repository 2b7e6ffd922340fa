package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatConfigRepo stores per-owner chat configuration overrides as whole JSON documents.
type ChatConfigRepo struct {
	pool *pgxpool.Pool
}

func NewChatConfigRepo(pool *pgxpool.Pool) *ChatConfigRepo {
	return &ChatConfigRepo{pool: pool}
}

// Get returns pgx.ErrNoRows when the owner has no override.
func (r *ChatConfigRepo) Get(ctx context.Context, ownerID uuid.UUID) (json.RawMessage, error) {
	var raw json.RawMessage
	err := r.pool.QueryRow(ctx, "SELECT config_json FROM chat_configs WHERE owner_id = $1", ownerID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (r *ChatConfigRepo) Upsert(ctx context.Context, ownerID uuid.UUID, config json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO chat_configs (owner_id, config_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET config_json = EXCLUDED.config_json, updated_at = NOW()`,
		ownerID, []byte(config),
	)
	return err
}

func (r *ChatConfigRepo) Delete(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM chat_configs WHERE owner_id = $1", ownerID)
	return err
}
