package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kikite-ai/kikite/internal/model"
)

// CreateTemplate validates and inserts a new interview template, returning it
// with an assigned id.
func (db *DB) CreateTemplate(ctx context.Context, tpl model.Template) (model.Template, error) {
	if err := tpl.Validate(); err != nil {
		return model.Template{}, err
	}
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	tpl.CreatedAt = time.Now().UTC()

	topics, err := json.Marshal(tpl.Topics)
	if err != nil {
		return model.Template{}, fmt.Errorf("storage: marshal topics: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO templates (id, agent_name, language, subject_name, subject_description,
		 subject_context, topics, welcome_message, goodbye_message, provider, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tpl.ID, tpl.AgentName, tpl.Language, tpl.SubjectName, tpl.SubjectDescription,
		tpl.SubjectContext, topics, tpl.WelcomeMessage, tpl.GoodbyeMessage,
		tpl.Provider, tpl.Model, tpl.CreatedAt,
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("storage: create template: %w", err)
	}
	return tpl, nil
}

// GetTemplate retrieves a template by id.
func (db *DB) GetTemplate(ctx context.Context, id uuid.UUID) (model.Template, error) {
	var tpl model.Template
	var topics []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_name, language, subject_name, subject_description,
		 subject_context, topics, welcome_message, goodbye_message, provider, model, created_at
		 FROM templates WHERE id = $1`, id,
	).Scan(
		&tpl.ID, &tpl.AgentName, &tpl.Language, &tpl.SubjectName, &tpl.SubjectDescription,
		&tpl.SubjectContext, &topics, &tpl.WelcomeMessage, &tpl.GoodbyeMessage,
		&tpl.Provider, &tpl.Model, &tpl.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Template{}, fmt.Errorf("storage: template %s: %w", id, ErrNotFound)
		}
		return model.Template{}, fmt.Errorf("storage: get template: %w", err)
	}
	if err := json.Unmarshal(topics, &tpl.Topics); err != nil {
		return model.Template{}, fmt.Errorf("storage: unmarshal topics: %w", err)
	}
	return tpl, nil
}
