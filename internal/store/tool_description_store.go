package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ToolDescriptionStore persists generated tool descriptions keyed by
// (provider_model, tool_name), backing the in-memory LRU front of the
// description cache (§4.1).
type ToolDescriptionStore struct {
	db *sql.DB
}

// NewToolDescriptionStore wraps an already-migrated database connection.
func NewToolDescriptionStore(db *sql.DB) *ToolDescriptionStore {
	return &ToolDescriptionStore{db: db}
}

// Get looks up a cached description. The second return value is false on a
// cache miss (not an error).
func (s *ToolDescriptionStore) Get(ctx context.Context, providerModel, toolName string) (ToolDescription, bool, error) {
	var d ToolDescription
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_model, tool_name, description, parameters_info, tool_properties,
		       generation_time_ms, quality_score, usage_count, created_at, last_used_at
		FROM tool_descriptions WHERE provider_model = ? AND tool_name = ?`,
		providerModel, toolName,
	).Scan(&d.ID, &d.ProviderModel, &d.ToolName, &d.Description, &d.ParametersInfo, &d.ToolProperties,
		&d.GenerationTimeMS, &d.QualityScore, &d.UsageCount, &d.CreatedAt, &d.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ToolDescription{}, false, nil
	}
	if err != nil {
		return ToolDescription{}, false, fmt.Errorf("get tool description %s/%s: %w", providerModel, toolName, err)
	}
	return d, true, nil
}

// Put inserts or replaces the cached description for (provider_model, tool_name).
func (s *ToolDescriptionStore) Put(ctx context.Context, d ToolDescription) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.LastUsedAt.IsZero() {
		d.LastUsedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_descriptions (
			provider_model, tool_name, description, parameters_info, tool_properties,
			generation_time_ms, quality_score, usage_count, created_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_model, tool_name) DO UPDATE SET
			description = excluded.description,
			parameters_info = excluded.parameters_info,
			tool_properties = excluded.tool_properties,
			generation_time_ms = excluded.generation_time_ms,
			quality_score = excluded.quality_score,
			last_used_at = excluded.last_used_at`,
		d.ProviderModel, d.ToolName, d.Description, d.ParametersInfo, d.ToolProperties,
		d.GenerationTimeMS, d.QualityScore, d.UsageCount, d.CreatedAt, d.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("put tool description %s/%s: %w", d.ProviderModel, d.ToolName, err)
	}
	return nil
}

// Touch bumps usage_count and last_used_at for a cache hit, without
// regenerating the description itself.
func (s *ToolDescriptionStore) Touch(ctx context.Context, providerModel, toolName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_descriptions
		SET usage_count = usage_count + 1, last_used_at = ?
		WHERE provider_model = ? AND tool_name = ?`,
		time.Now().UTC(), providerModel, toolName,
	)
	if err != nil {
		return fmt.Errorf("touch tool description %s/%s: %w", providerModel, toolName, err)
	}
	return nil
}
