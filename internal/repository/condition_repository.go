package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
)

// ConditionRepository manages the climate_condition lookup table.
type ConditionRepository interface {
	Insert(ctx context.Context, c *models.Condition) (int64, error)
	Get(ctx context.Context, code int64) (*models.Condition, error)
	Update(ctx context.Context, code int64, u models.ConditionUpdate) (bool, error)
	Delete(ctx context.Context, code int64) error
	// GetOrInsert returns the code of an existing row untouched, inserting
	// only when the code is new.
	GetOrInsert(ctx context.Context, c *models.Condition) (int64, error)
}

var conditionColumns = []string{"condition_code", "text", "icon"}

type conditionRepository struct {
	base
	insertSQL string
}

func NewConditionRepository(db database.Executor, logger logging.Logger) ConditionRepository {
	return &conditionRepository{
		base:      base{db: db, logger: logger},
		insertSQL: upsertSQL("climate_condition", conditionColumns, []string{"condition_code"}, "condition_code"),
	}
}

func (r *conditionRepository) Insert(ctx context.Context, c *models.Condition) (int64, error) {
	var code int64
	if err := r.db.GetContext(ctx, "insert_condition", &code, r.insertSQL, c.Code, c.Text, c.Icon); err != nil {
		return 0, fmt.Errorf("failed to insert condition: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_INSERT_CONDITION] Condition upserted", logging.Fields{
		"condition_code": code,
	})
	return code, nil
}

func (r *conditionRepository) Get(ctx context.Context, code int64) (*models.Condition, error) {
	query := `SELECT condition_code, text, icon FROM climate_condition WHERE condition_code = $1`

	var c models.Condition
	err := r.db.GetContext(ctx, "get_condition", &c, query, code)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "condition", ID: strconv.FormatInt(code, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get condition: %w", err)
	}
	return &c, nil
}

func (r *conditionRepository) Update(ctx context.Context, code int64, u models.ConditionUpdate) (bool, error) {
	return r.update(ctx, "update_condition", "climate_condition", "condition", strconv.FormatInt(code, 10),
		u.Assignments(), []models.Assignment{{Column: "condition_code", Value: code}})
}

func (r *conditionRepository) Delete(ctx context.Context, code int64) error {
	return r.remove(ctx, "delete_condition", "climate_condition", "condition", strconv.FormatInt(code, 10),
		[]models.Assignment{{Column: "condition_code", Value: code}})
}

func (r *conditionRepository) GetOrInsert(ctx context.Context, c *models.Condition) (int64, error) {
	existing, err := r.Get(ctx, c.Code)
	if err == nil {
		return existing.Code, nil
	}
	if !IsNotFound(err) {
		return 0, err
	}
	return r.Insert(ctx, c)
}
