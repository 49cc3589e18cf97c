package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vivarium/internal/models"
	"vivarium/pkg/database"
	"vivarium/pkg/logging"
)

// Store bundles every repository over a single executor. Pass a
// *database.Session to make all of them share one transaction.
type Store struct {
	Locations      LocationRepository
	ForecastDays   ForecastDayRepository
	Days           DayRepository
	Astro          AstroRepository
	Hours          HourRepository
	Conditions     ConditionRepository
	RawData        RawClimateDataRepository
	Devices        DeviceRepository
	DeviceStatus   DeviceStatusRepository
	Sensors        SensorRepository
	SensorReadings SensorReadingRepository
}

// NewStore creates all repositories on db.
func NewStore(db database.Executor, logger logging.Logger) *Store {
	return &Store{
		Locations:      NewLocationRepository(db, logger),
		ForecastDays:   NewForecastDayRepository(db, logger),
		Days:           NewDayRepository(db, logger),
		Astro:          NewAstroRepository(db, logger),
		Hours:          NewHourRepository(db, logger),
		Conditions:     NewConditionRepository(db, logger),
		RawData:        NewRawClimateDataRepository(db, logger),
		Devices:        NewDeviceRepository(db, logger),
		DeviceStatus:   NewDeviceStatusRepository(db, logger),
		Sensors:        NewSensorRepository(db, logger),
		SensorReadings: NewSensorReadingRepository(db, logger),
	}
}

// base carries what every repository needs.
type base struct {
	db     database.Executor
	logger logging.Logger
}

// upsertSQL builds an INSERT ... ON CONFLICT statement over a fixed column
// list. Every column outside the conflict target is overwritten from
// EXCLUDED; with nothing left to overwrite the statement does nothing.
func upsertSQL(table string, columns, conflict []string, returning string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	isKey := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isKey[c] = true
	}
	var updates []string
	for _, c := range columns {
		if !isKey[c] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "), strings.Join(conflict, ", "))
	if len(updates) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	if returning != "" {
		b.WriteString(" RETURNING ")
		b.WriteString(returning)
	}
	return b.String()
}

// whereClause renders "a = $n AND b = $n+1" starting at placeholder offset+1.
func whereClause(keys []models.Assignment, offset int) (string, []interface{}) {
	parts := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s = $%d", k.Column, offset+i+1)
		args[i] = k.Value
	}
	return strings.Join(parts, " AND "), args
}

// update runs a partial UPDATE built from assignments. Column names only
// come from the models' fixed Assignments lists. An empty assignment list
// returns false without touching the database; zero affected rows is a
// *NotFoundError.
func (b *base) update(ctx context.Context, queryType, table, resource, id string, assignments []models.Assignment, keys []models.Assignment) (bool, error) {
	if len(assignments) == 0 {
		b.logger.Warn(ctx, "[REPO_UPDATE_EMPTY] No columns to update", logging.Fields{
			"table": table,
			"id":    id,
		})
		return false, nil
	}

	sets := make([]string, len(assignments))
	args := make([]interface{}, 0, len(assignments)+len(keys))
	for i, a := range assignments {
		sets[i] = fmt.Sprintf("%s = $%d", a.Column, i+1)
		args = append(args, a.Value)
	}
	where, keyArgs := whereClause(keys, len(assignments))
	args = append(args, keyArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	res, err := b.db.ExecContext(ctx, queryType, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update %s: %w", resource, err)
	}
	if err := requireAffected(res, resource, id); err != nil {
		return false, err
	}

	b.logger.Debug(ctx, "[REPO_UPDATE] Row updated", logging.Fields{
		"table":   table,
		"id":      id,
		"columns": len(assignments),
	})
	return true, nil
}

// remove deletes the row identified by keys.
func (b *base) remove(ctx context.Context, queryType, table, resource, id string, keys []models.Assignment) error {
	where, args := whereClause(keys, 0)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)

	res, err := b.db.ExecContext(ctx, queryType, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", resource, err)
	}
	if err := requireAffected(res, resource, id); err != nil {
		return err
	}

	b.logger.Debug(ctx, "[REPO_DELETE] Row deleted", logging.Fields{
		"table": table,
		"id":    id,
	})
	return nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffecter, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s: %w", resource, err)
	}
	if n == 0 {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// dayKey formats a (location, date) composite key for errors and logs.
func dayKey(locationID int64, date time.Time) string {
	return fmt.Sprintf("%d/%s", locationID, date.Format(models.DateLayout))
}
