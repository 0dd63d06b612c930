package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
)

// driverName is the database/sql driver registered by modernc.org/sqlite.
const driverName = "sqlite"

// Repository stores the bloc hierarchy in SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens the database file at path, creating parent directories and schema as needed.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens a private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	return newRepository(db)
}

// newRepository migrates db and wraps it.
func newRepository(db *sql.DB) (*Repository, error) {
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate creates the schema and applies additive column upgrades.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS blocs (
			uuid TEXT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			position INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			name TEXT NOT NULL,
			area_hectares REAL NOT NULL DEFAULT 0,
			cycle_number INTEGER NOT NULL DEFAULT 1,
			variety_name TEXT NOT NULL DEFAULT '',
			planting_date TEXT NOT NULL DEFAULT '',
			planned_harvest_date TEXT NOT NULL DEFAULT '',
			expected_yield_tons_ha REAL NOT NULL DEFAULT 0,
			growth_stage TEXT NOT NULL DEFAULT 'germination',
			notes TEXT NOT NULL DEFAULT '',
			retired_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS operations (
			uuid TEXT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			bloc_uuid TEXT NOT NULL,
			position INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			product_name TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'mechanical',
			planned_start_date TEXT NOT NULL DEFAULT '',
			planned_end_date TEXT NOT NULL DEFAULT '',
			planned_rate REAL NOT NULL DEFAULT 0,
			est_product_cost TEXT NOT NULL DEFAULT '0',
			est_resource_cost TEXT NOT NULL DEFAULT '0',
			act_product_cost TEXT NOT NULL DEFAULT '0',
			act_resource_cost TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL DEFAULT 'not-started',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(bloc_uuid) REFERENCES blocs(uuid) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS work_packages (
			uuid TEXT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			operation_uuid TEXT NOT NULL,
			position INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			date TEXT NOT NULL DEFAULT '',
			area REAL NOT NULL DEFAULT 0,
			rate REAL NOT NULL DEFAULT 0,
			quantity REAL NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(operation_uuid) REFERENCES operations(uuid) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			entity_uuid TEXT NOT NULL,
			operation TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_blocs_position ON blocs(position);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_bloc_position ON operations(bloc_uuid, position);`,
		`CREATE INDEX IF NOT EXISTS idx_work_packages_operation_position ON work_packages(operation_uuid, position);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_entity ON change_events(entity_uuid, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	// Early databases tracked only the completed flag; an empty status is inferred on read.
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE work_packages ADD COLUMN status TEXT NOT NULL DEFAULT ''`); err != nil && !isDuplicateColumnErr(err) {
		return fmt.Errorf("migrate sqlite add work_packages.status: %w", err)
	}
	return nil
}

// LoadBlocs returns the whole forest in display order with derived fields computed.
func (r *Repository) LoadBlocs(ctx context.Context) ([]*domain.Bloc, error) {
	blocs, err := r.loadBlocRows(ctx)
	if err != nil {
		return nil, err
	}
	byBloc := make(map[string]*domain.Bloc, len(blocs))
	for _, b := range blocs {
		byBloc[b.UUID] = b
	}

	ops, err := r.loadOperationRows(ctx)
	if err != nil {
		return nil, err
	}
	byOp := make(map[string]*domain.Operation, len(ops))
	for _, row := range ops {
		parent, ok := byBloc[row.parent]
		if !ok {
			continue
		}
		parent.Operations = append(parent.Operations, row.op)
		byOp[row.op.UUID] = row.op
	}

	wps, err := r.loadWorkPackageRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range wps {
		parent, ok := byOp[row.parent]
		if !ok {
			continue
		}
		parent.WorkPackages = append(parent.WorkPackages, row.wp)
	}
	return domain.DeriveAll(blocs), nil
}

// loadBlocRows reads every bloc without children.
func (r *Repository) loadBlocRows(ctx context.Context) ([]*domain.Bloc, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uuid, id, version, name, area_hectares, cycle_number, variety_name, planting_date, planned_harvest_date,
			expected_yield_tons_ha, growth_stage, notes, retired_at
		FROM blocs
		ORDER BY position ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list blocs: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Bloc, 0)
	for rows.Next() {
		b, err := scanBloc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// operationRow pairs an operation with its parent bloc uuid.
type operationRow struct {
	parent string
	op     *domain.Operation
}

// loadOperationRows reads every operation without children.
func (r *Repository) loadOperationRows(ctx context.Context) ([]operationRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bloc_uuid, uuid, id, version, product_name, method, planned_start_date, planned_end_date, planned_rate,
			est_product_cost, est_resource_cost, act_product_cost, act_resource_cost, status
		FROM operations
		ORDER BY position ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := make([]operationRow, 0)
	for rows.Next() {
		var parent string
		op, err := scanOperation(rows, &parent)
		if err != nil {
			return nil, err
		}
		out = append(out, operationRow{parent: parent, op: &op})
	}
	return out, rows.Err()
}

// workPackageRow pairs a work package with its parent operation uuid.
type workPackageRow struct {
	parent string
	wp     *domain.WorkPackage
}

// loadWorkPackageRows reads every work package.
func (r *Repository) loadWorkPackageRows(ctx context.Context) ([]workPackageRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT operation_uuid, uuid, id, version, date, area, rate, quantity, status, completed
		FROM work_packages
		ORDER BY position ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list work packages: %w", err)
	}
	defer rows.Close()

	out := make([]workPackageRow, 0)
	for rows.Next() {
		var parent string
		wp, err := scanWorkPackage(rows, &parent)
		if err != nil {
			return nil, err
		}
		out = append(out, workPackageRow{parent: parent, wp: &wp})
	}
	return out, rows.Err()
}

// CreateBloc inserts a bloc at the end of the forest and returns its store uuid.
func (r *Repository) CreateBloc(ctx context.Context, b domain.Bloc) (string, error) {
	if strings.TrimSpace(b.ID) == "" {
		return "", domain.ErrInvalidID
	}
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := rejectTakenID(ctx, tx, "blocs", b.ID); err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocs(
			uuid, id, position, version, name, area_hectares, cycle_number, variety_name, planting_date, planned_harvest_date,
			expected_yield_tons_ha, growth_stage, notes, retired_at, created_at, updated_at
		)
		VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM blocs), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		b.ID,
		versionOrOne(b.Version),
		b.Name,
		b.AreaHectares,
		b.CycleNumber,
		b.VarietyName,
		b.PlantingDate.String(),
		b.PlannedHarvestDate.String(),
		b.ExpectedYieldTonsHa,
		string(b.GrowthStage),
		b.Notes,
		nullableTS(b.RetiredAt),
		ts(now),
		ts(now),
	)
	if err != nil {
		return "", fmt.Errorf("insert bloc: %w", err)
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityBloc,
		EntityID:   b.ID,
		EntityUUID: id,
		Operation:  domain.ChangeOperationCreate,
		Metadata:   map[string]string{"name": b.Name, "area_hectares": strconv.FormatFloat(b.AreaHectares, 'f', -1, 64)},
		OccurredAt: now,
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateBloc writes a bloc's own fields if the stored row is at Version-1.
func (r *Repository) UpdateBloc(ctx context.Context, b domain.Bloc) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var prevRetired sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT retired_at FROM blocs WHERE uuid = ?`, b.UUID).Scan(&prevRetired); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE blocs
		SET name = ?, area_hectares = ?, cycle_number = ?, variety_name = ?, planting_date = ?, planned_harvest_date = ?,
			expected_yield_tons_ha = ?, growth_stage = ?, notes = ?, retired_at = ?, version = ?, updated_at = ?
		WHERE uuid = ? AND version = ?
	`,
		b.Name,
		b.AreaHectares,
		b.CycleNumber,
		b.VarietyName,
		b.PlantingDate.String(),
		b.PlannedHarvestDate.String(),
		b.ExpectedYieldTonsHa,
		string(b.GrowthStage),
		b.Notes,
		nullableTS(b.RetiredAt),
		b.Version,
		ts(now),
		b.UUID,
		b.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update bloc: %w", err)
	}
	if err := translateStaleVersion(res); err != nil {
		return err
	}

	op := domain.ChangeOperationUpdate
	if parseNullTS(prevRetired) == nil && b.RetiredAt != nil {
		op = domain.ChangeOperationRetire
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityBloc,
		EntityID:   b.ID,
		EntityUUID: b.UUID,
		Operation:  op,
		Metadata:   map[string]string{"name": b.Name, "version": strconv.FormatInt(b.Version, 10)},
		OccurredAt: now,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteBloc removes a bloc with its operations and work packages.
func (r *Repository) DeleteBloc(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var clientID, name string
	if err := tx.QueryRowContext(ctx, `SELECT id, name FROM blocs WHERE uuid = ?`, id).Scan(&clientID, &name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		return err
	}
	stmts := []string{
		`DELETE FROM work_packages WHERE operation_uuid IN (SELECT uuid FROM operations WHERE bloc_uuid = ?)`,
		`DELETE FROM operations WHERE bloc_uuid = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete bloc children: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM blocs WHERE uuid = ?`, id)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); err != nil {
		return err
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityBloc,
		EntityID:   clientID,
		EntityUUID: id,
		Operation:  domain.ChangeOperationDelete,
		Metadata:   map[string]string{"name": name},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// CreateOperation appends an operation to the bloc with store uuid blocUUID.
func (r *Repository) CreateOperation(ctx context.Context, blocUUID string, op domain.Operation) (string, error) {
	if strings.TrimSpace(op.ID) == "" {
		return "", domain.ErrInvalidID
	}
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireRow(ctx, tx, `SELECT 1 FROM blocs WHERE uuid = ?`, blocUUID); err != nil {
		return "", err
	}
	if err := rejectTakenID(ctx, tx, "operations", op.ID); err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO operations(
			uuid, id, bloc_uuid, position, version, product_name, method, planned_start_date, planned_end_date, planned_rate,
			est_product_cost, est_resource_cost, act_product_cost, act_resource_cost, status, created_at, updated_at
		)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM operations WHERE bloc_uuid = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		op.ID,
		blocUUID,
		blocUUID,
		versionOrOne(op.Version),
		op.ProductName,
		string(op.Method),
		op.PlannedStartDate.String(),
		op.PlannedEndDate.String(),
		op.PlannedRate,
		op.EstProductCost.String(),
		op.EstResourceCost.String(),
		op.ActProductCost.String(),
		op.ActResourceCost.String(),
		string(op.Status),
		ts(now),
		ts(now),
	)
	if err != nil {
		return "", fmt.Errorf("insert operation: %w", err)
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityOperation,
		EntityID:   op.ID,
		EntityUUID: id,
		Operation:  domain.ChangeOperationCreate,
		Metadata:   map[string]string{"product_name": op.ProductName, "bloc_uuid": blocUUID},
		OccurredAt: now,
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateOperation writes an operation's own fields if the stored row is at Version-1.
func (r *Repository) UpdateOperation(ctx context.Context, op domain.Operation) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE operations
		SET product_name = ?, method = ?, planned_start_date = ?, planned_end_date = ?, planned_rate = ?,
			est_product_cost = ?, est_resource_cost = ?, act_product_cost = ?, act_resource_cost = ?, status = ?,
			version = ?, updated_at = ?
		WHERE uuid = ? AND version = ?
	`,
		op.ProductName,
		string(op.Method),
		op.PlannedStartDate.String(),
		op.PlannedEndDate.String(),
		op.PlannedRate,
		op.EstProductCost.String(),
		op.EstResourceCost.String(),
		op.ActProductCost.String(),
		op.ActResourceCost.String(),
		string(op.Status),
		op.Version,
		ts(now),
		op.UUID,
		op.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	if err := r.checkVersioned(ctx, tx, "operations", op.UUID, res); err != nil {
		return err
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityOperation,
		EntityID:   op.ID,
		EntityUUID: op.UUID,
		Operation:  domain.ChangeOperationUpdate,
		Metadata:   map[string]string{"product_name": op.ProductName, "version": strconv.FormatInt(op.Version, 10)},
		OccurredAt: now,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteOperation removes an operation and its work packages.
func (r *Repository) DeleteOperation(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var clientID, name string
	if err := tx.QueryRowContext(ctx, `SELECT id, product_name FROM operations WHERE uuid = ?`, id).Scan(&clientID, &name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM work_packages WHERE operation_uuid = ?`, id); err != nil {
		return fmt.Errorf("delete operation children: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE uuid = ?`, id)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); err != nil {
		return err
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityOperation,
		EntityID:   clientID,
		EntityUUID: id,
		Operation:  domain.ChangeOperationDelete,
		Metadata:   map[string]string{"product_name": name},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// CreateWorkPackage appends a work package to the operation with store uuid opUUID.
func (r *Repository) CreateWorkPackage(ctx context.Context, opUUID string, wp domain.WorkPackage) (string, error) {
	if strings.TrimSpace(wp.ID) == "" {
		return "", domain.ErrInvalidID
	}
	id := uuid.NewString()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if err := requireRow(ctx, tx, `SELECT 1 FROM operations WHERE uuid = ?`, opUUID); err != nil {
		return "", err
	}
	if err := rejectTakenID(ctx, tx, "work_packages", wp.ID); err != nil {
		return "", err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_packages(uuid, id, operation_uuid, position, version, date, area, rate, quantity, status, completed, created_at, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM work_packages WHERE operation_uuid = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		wp.ID,
		opUUID,
		opUUID,
		versionOrOne(wp.Version),
		wp.Date.String(),
		wp.Area,
		wp.Rate,
		wp.Quantity,
		string(wp.Status),
		boolToInt(wp.Completed),
		ts(now),
		ts(now),
	)
	if err != nil {
		return "", fmt.Errorf("insert work package: %w", err)
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityWorkPackage,
		EntityID:   wp.ID,
		EntityUUID: id,
		Operation:  domain.ChangeOperationCreate,
		Metadata:   map[string]string{"operation_uuid": opUUID, "status": string(wp.EffectiveStatus())},
		OccurredAt: now,
	})
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateWorkPackage writes a work package if the stored row is at Version-1.
func (r *Repository) UpdateWorkPackage(ctx context.Context, wp domain.WorkPackage) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var prevStatus string
	var prevCompleted bool
	if err := tx.QueryRowContext(ctx, `SELECT status, completed FROM work_packages WHERE uuid = ?`, wp.UUID).Scan(&prevStatus, &prevCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE work_packages
		SET date = ?, area = ?, rate = ?, quantity = ?, status = ?, completed = ?, version = ?, updated_at = ?
		WHERE uuid = ? AND version = ?
	`,
		wp.Date.String(),
		wp.Area,
		wp.Rate,
		wp.Quantity,
		string(wp.Status),
		boolToInt(wp.Completed),
		wp.Version,
		ts(now),
		wp.UUID,
		wp.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update work package: %w", err)
	}
	if err := translateStaleVersion(res); err != nil {
		return err
	}

	prev := domain.WorkPackage{Status: domain.WorkStatus(prevStatus), Completed: prevCompleted}
	meta := map[string]string{"version": strconv.FormatInt(wp.Version, 10)}
	if from, to := prev.EffectiveStatus(), wp.EffectiveStatus(); from != to {
		meta["from_status"] = string(from)
		meta["to_status"] = string(to)
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityWorkPackage,
		EntityID:   wp.ID,
		EntityUUID: wp.UUID,
		Operation:  domain.ChangeOperationUpdate,
		Metadata:   meta,
		OccurredAt: now,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteWorkPackage removes one work package.
func (r *Repository) DeleteWorkPackage(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var clientID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM work_packages WHERE uuid = ?`, id).Scan(&clientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM work_packages WHERE uuid = ?`, id)
	if err != nil {
		return err
	}
	if err := translateNoRows(res); err != nil {
		return err
	}
	err = insertChangeEvent(ctx, tx, domain.ChangeEvent{
		EntityKind: domain.EntityWorkPackage,
		EntityID:   clientID,
		EntityUUID: id,
		Operation:  domain.ChangeOperationDelete,
		Metadata:   map[string]string{},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListChangeEvents lists recent activity, newest first.
func (r *Repository) ListChangeEvents(ctx context.Context, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_kind, entity_id, entity_uuid, operation, metadata_json, created_at
		FROM change_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			kindRaw     string
			opRaw       string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &kindRaw, &event.EntityID, &event.EntityUUID, &opRaw, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.EntityKind = domain.EntityKind(kindRaw)
		event.Operation = normalizeChangeOperation(opRaw)
		event.OccurredAt = parseTS(createdRaw)
		if strings.TrimSpace(metadataRaw) == "" {
			metadataRaw = "{}"
		}
		if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// queryRower is the read contract shared by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// execerContext is the write contract shared by *sql.DB and *sql.Tx.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// requireRow returns app.ErrNotFound when query yields no row.
func requireRow(ctx context.Context, q queryRower, query string, args ...any) error {
	var one int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return app.ErrNotFound
		}
		return err
	}
	return nil
}

// rejectTakenID fails with domain.ErrDuplicateID when table already holds the client id.
func rejectTakenID(ctx context.Context, q queryRower, table, id string) error {
	err := requireRow(ctx, q, `SELECT 1 FROM `+table+` WHERE id = ?`, id)
	switch {
	case err == nil:
		return fmt.Errorf("%s id %q: %w", strings.TrimSuffix(table, "s"), id, domain.ErrDuplicateID)
	case errors.Is(err, app.ErrNotFound):
		return nil
	default:
		return err
	}
}

// checkVersioned resolves a zero-row versioned update into not-found or a version conflict.
func (r *Repository) checkVersioned(ctx context.Context, q queryRower, table, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if err := requireRow(ctx, q, `SELECT 1 FROM `+table+` WHERE uuid = ?`, id); err != nil {
		return err
	}
	return app.ErrVersionConflict
}

// insertChangeEvent appends one activity record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(entity_kind, entity_id, entity_uuid, operation, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(event.EntityKind),
		event.EntityID,
		event.EntityUUID,
		string(event.Operation),
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// normalizeChangeOperation canonicalizes persisted operation values.
func normalizeChangeOperation(raw string) domain.ChangeOperation {
	switch op := domain.ChangeOperation(strings.TrimSpace(strings.ToLower(raw))); op {
	case domain.ChangeOperationCreate, domain.ChangeOperationUpdate, domain.ChangeOperationRetire, domain.ChangeOperationDelete:
		return op
	default:
		return domain.ChangeOperationUpdate
	}
}

// normalizeEventTS ensures event timestamps are populated and UTC.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanBloc reads one bloc row.
func scanBloc(s scanner) (domain.Bloc, error) {
	var (
		b           domain.Bloc
		plantingRaw string
		harvestRaw  string
		stageRaw    string
		retiredRaw  sql.NullString
	)
	if err := s.Scan(
		&b.UUID,
		&b.ID,
		&b.Version,
		&b.Name,
		&b.AreaHectares,
		&b.CycleNumber,
		&b.VarietyName,
		&plantingRaw,
		&harvestRaw,
		&b.ExpectedYieldTonsHa,
		&stageRaw,
		&b.Notes,
		&retiredRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Bloc{}, app.ErrNotFound
		}
		return domain.Bloc{}, err
	}
	var err error
	if b.PlantingDate, err = domain.ParseDate(plantingRaw); err != nil {
		return domain.Bloc{}, fmt.Errorf("decode blocs.planting_date: %w", err)
	}
	if b.PlannedHarvestDate, err = domain.ParseDate(harvestRaw); err != nil {
		return domain.Bloc{}, fmt.Errorf("decode blocs.planned_harvest_date: %w", err)
	}
	b.GrowthStage = domain.NormalizeGrowthStage(domain.GrowthStage(stageRaw))
	if b.GrowthStage == "" {
		b.GrowthStage = domain.GrowthStageGermination
	}
	b.RetiredAt = parseNullTS(retiredRaw)
	b.Operations = []*domain.Operation{}
	return b, nil
}

// scanOperation reads one operation row; parent receives the bloc uuid.
func scanOperation(s scanner, parent *string) (domain.Operation, error) {
	var (
		op                      domain.Operation
		methodRaw, statusRaw    string
		startRaw, endRaw        string
		estProduct, estResource string
		actProduct, actResource string
	)
	if err := s.Scan(
		parent,
		&op.UUID,
		&op.ID,
		&op.Version,
		&op.ProductName,
		&methodRaw,
		&startRaw,
		&endRaw,
		&op.PlannedRate,
		&estProduct,
		&estResource,
		&actProduct,
		&actResource,
		&statusRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Operation{}, app.ErrNotFound
		}
		return domain.Operation{}, err
	}
	var err error
	if op.PlannedStartDate, err = domain.ParseDate(startRaw); err != nil {
		return domain.Operation{}, fmt.Errorf("decode operations.planned_start_date: %w", err)
	}
	if op.PlannedEndDate, err = domain.ParseDate(endRaw); err != nil {
		return domain.Operation{}, fmt.Errorf("decode operations.planned_end_date: %w", err)
	}
	costs := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{estProduct, &op.EstProductCost},
		{estResource, &op.EstResourceCost},
		{actProduct, &op.ActProductCost},
		{actResource, &op.ActResourceCost},
	}
	for _, c := range costs {
		if *c.dst, err = parseDecimal(c.raw); err != nil {
			return domain.Operation{}, fmt.Errorf("decode operation cost: %w", err)
		}
	}
	op.Method = domain.NormalizeMethod(domain.Method(methodRaw))
	op.Status = domain.NormalizeWorkStatus(domain.WorkStatus(statusRaw))
	if !domain.IsValidWorkStatus(op.Status) {
		op.Status = domain.StatusNotStarted
	}
	op.WorkPackages = []*domain.WorkPackage{}
	return op, nil
}

// scanWorkPackage reads one work package row; parent receives the operation uuid.
func scanWorkPackage(s scanner, parent *string) (domain.WorkPackage, error) {
	var (
		wp        domain.WorkPackage
		dateRaw   string
		statusRaw string
	)
	if err := s.Scan(
		parent,
		&wp.UUID,
		&wp.ID,
		&wp.Version,
		&dateRaw,
		&wp.Area,
		&wp.Rate,
		&wp.Quantity,
		&statusRaw,
		&wp.Completed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkPackage{}, app.ErrNotFound
		}
		return domain.WorkPackage{}, err
	}
	var err error
	if wp.Date, err = domain.ParseDate(dateRaw); err != nil {
		return domain.WorkPackage{}, fmt.Errorf("decode work_packages.date: %w", err)
	}
	wp.Status = domain.NormalizeWorkStatus(domain.WorkStatus(statusRaw))
	return wp, nil
}

// translateNoRows maps a zero-row write to app.ErrNotFound.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// translateStaleVersion maps a zero-row versioned write, after an existence check, to a conflict.
func translateStaleVersion(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrVersionConflict
	}
	return nil
}

// parseDecimal reads a stored cost, treating empty text as zero.
func parseDecimal(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// versionOrOne returns v, or 1 for values that were never versioned.
func versionOrOne(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}

// boolToInt encodes a bool for an INTEGER column.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ts formats a timestamp for storage.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS formats an optional timestamp for storage.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses a stored timestamp, returning zero on malformed input.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses an optional stored timestamp.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

// isDuplicateColumnErr reports whether err is SQLite's duplicate column error.
func isDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
