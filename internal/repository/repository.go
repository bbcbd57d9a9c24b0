// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDataset atomically swaps in a freshly generated dataset. Derived
// records from previous runs (clusters, alerts, model runs) are cleared
// along with the old dataset.
func (r *SQLRepository) ReplaceDataset(ctx context.Context, entities []*domain.Entity, transactions []*domain.Transaction) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	for _, table := range []string{"alerts", "clusters", "model_runs", "transactions", "entities"} {
		if _, err := dbTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	entStmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO entities (id, category, country, suspicious, cluster_id, risk_score, attributions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer entStmt.Close()

	for _, e := range entities {
		attributions, _ := json.Marshal(e.Attributions)
		if _, err := entStmt.ExecContext(ctx,
			e.ID, string(e.Category), e.Country, boolToInt(e.Suspicious),
			e.ClusterID, e.RiskScore, string(attributions),
		); err != nil {
			return err
		}
	}

	txStmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO transactions (id, source_id, dest_id, amount, timestamp, channel, country, risk_flags, suspicious)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer txStmt.Close()

	for _, tx := range transactions {
		flags, _ := json.Marshal(tx.RiskFlags)
		if _, err := txStmt.ExecContext(ctx,
			tx.ID, tx.SourceID, tx.DestID, tx.Amount, tx.Timestamp,
			string(tx.Channel), tx.Country, string(flags), boolToInt(tx.Suspicious),
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// ListEntities returns all entities ordered by id.
func (r *SQLRepository) ListEntities(ctx context.Context) ([]*domain.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, country, suspicious, cluster_id, risk_score, attributions
		FROM entities
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GetEntity retrieves one entity by id.
func (r *SQLRepository) GetEntity(ctx context.Context, entityID string) (*domain.Entity, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, category, country, suspicious, cluster_id, risk_score, attributions
		FROM entities
		WHERE id = ?
	`), entityID)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListTransactions returns all transactions ordered by timestamp.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, dest_id, amount, timestamp, channel, country, risk_flags, suspicious
		FROM transactions
		ORDER BY timestamp, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// GetTransaction retrieves one transaction by id.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, source_id, dest_id, amount, timestamp, channel, country, risk_flags, suspicious
		FROM transactions
		WHERE id = ?
	`), txID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// UpdateEntityScores applies risk scores and attribution maps to the
// stored entities in one transaction.
func (r *SQLRepository) UpdateEntityScores(ctx context.Context, scores map[string]float64, attributions map[string]map[string]float64) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		UPDATE entities SET risk_score = ?, attributions = ? WHERE id = ?
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, score := range scores {
		attr, _ := json.Marshal(attributions[id])
		if _, err := stmt.ExecContext(ctx, score, string(attr), id); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// ReplaceClusters rebuilds the cluster table.
func (r *SQLRepository) ReplaceClusters(ctx context.Context, clusters []*domain.ClusterGroup) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, "DELETE FROM clusters"); err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO clusters (id, entity_ids, size, score, typology)
		VALUES (?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range clusters {
		ids, _ := json.Marshal(c.EntityIDs)
		if _, err := stmt.ExecContext(ctx, c.ID, string(ids), c.Size, c.Score, string(c.Typology)); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// ListClusters returns all clusters ordered by score, highest first.
func (r *SQLRepository) ListClusters(ctx context.Context) ([]*domain.ClusterGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_ids, size, score, typology
		FROM clusters
		ORDER BY score DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*domain.ClusterGroup
	for rows.Next() {
		var c domain.ClusterGroup
		var ids, typology string
		if err := rows.Scan(&c.ID, &ids, &c.Size, &c.Score, &typology); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &c.EntityIDs); err != nil {
			return nil, fmt.Errorf("decode cluster %s members: %w", c.ID, err)
		}
		c.Typology = domain.Typology(typology)
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

// ReplaceAlerts rebuilds the alert table.
func (r *SQLRepository) ReplaceAlerts(ctx context.Context, alerts []*domain.Alert) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, "DELETE FROM alerts"); err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO alerts (id, entity_id, cluster_id, score, narrative, attributions, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		attr, _ := json.Marshal(a.Attributions)
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.EntityID, a.ClusterID, a.Score, a.Narrative,
			string(attr), a.Status, a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// ListAlerts returns all alerts ordered by score, highest first.
func (r *SQLRepository) ListAlerts(ctx context.Context) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, cluster_id, score, narrative, attributions, status, created_at
		FROM alerts
		ORDER BY score DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// GetAlert retrieves one alert by id.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, entity_id, cluster_id, score, narrative, attributions, status, created_at
		FROM alerts
		WHERE id = ?
	`), alertID)

	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SaveModelRun stores a run record. Any previously active run is
// deactivated in the same transaction, keeping exactly one run active.
func (r *SQLRepository) SaveModelRun(ctx context.Context, run *domain.ModelRun) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	if run.Active {
		if _, err := dbTx.ExecContext(ctx, "UPDATE model_runs SET active = 0 WHERE active = 1"); err != nil {
			return err
		}
	}

	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return err
	}
	if _, err := dbTx.ExecContext(ctx, r.rebind(`
		INSERT INTO model_runs (id, mode, metrics, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), run.ID, run.Mode, string(metrics), boolToInt(run.Active), run.CreatedAt); err != nil {
		return err
	}
	return dbTx.Commit()
}

// ActiveModelRun returns the currently active run.
func (r *SQLRepository) ActiveModelRun(ctx context.Context) (*domain.ModelRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, mode, metrics, active, created_at
		FROM model_runs
		WHERE active = 1
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var run domain.ModelRun
	var metrics string
	var active int
	err := row.Scan(&run.ID, &run.Mode, &metrics, &active, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, fmt.Errorf("decode run %s metrics: %w", run.ID, err)
	}
	run.Active = active != 0
	return &run, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*domain.Entity, error) {
	var e domain.Entity
	var category, attributions string
	var clusterID sql.NullString
	var suspicious int
	if err := row.Scan(&e.ID, &category, &e.Country, &suspicious, &clusterID, &e.RiskScore, &attributions); err != nil {
		return nil, err
	}
	e.Category = domain.EntityCategory(category)
	e.Suspicious = suspicious != 0
	e.ClusterID = clusterID.String
	if attributions != "" && attributions != "null" {
		if err := json.Unmarshal([]byte(attributions), &e.Attributions); err != nil {
			return nil, fmt.Errorf("decode entity %s attributions: %w", e.ID, err)
		}
	}
	return &e, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var channel, flags string
	var suspicious int
	if err := row.Scan(
		&tx.ID, &tx.SourceID, &tx.DestID, &tx.Amount, &tx.Timestamp,
		&channel, &tx.Country, &flags, &suspicious,
	); err != nil {
		return nil, err
	}
	tx.Channel = domain.Channel(channel)
	tx.Suspicious = suspicious != 0
	if flags != "" && flags != "null" {
		if err := json.Unmarshal([]byte(flags), &tx.RiskFlags); err != nil {
			return nil, fmt.Errorf("decode transaction %s flags: %w", tx.ID, err)
		}
	}
	return &tx, nil
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var attributions string
	var clusterID sql.NullString
	if err := row.Scan(
		&a.ID, &a.EntityID, &clusterID, &a.Score, &a.Narrative,
		&attributions, &a.Status, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.ClusterID = clusterID.String
	if attributions != "" && attributions != "null" {
		if err := json.Unmarshal([]byte(attributions), &a.Attributions); err != nil {
			return nil, fmt.Errorf("decode alert %s attributions: %w", a.ID, err)
		}
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
