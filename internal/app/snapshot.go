package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hylla/canetrack/internal/domain"
)

// SnapshotVersion identifies the snapshot document format.
const SnapshotVersion = "canetrack.snapshot.v1"

// SnapshotFormat names a snapshot encoding.
type SnapshotFormat string

// SnapshotFormat values.
const (
	SnapshotFormatJSON SnapshotFormat = "json"
	SnapshotFormatYAML SnapshotFormat = "yaml"
)

// ParseSnapshotFormat resolves a format name, accepting "yml" for YAML.
func ParseSnapshotFormat(raw string) (SnapshotFormat, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "json":
		return SnapshotFormatJSON, nil
	case "yaml", "yml":
		return SnapshotFormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidSnapshot, raw)
	}
}

// Snapshot is a portable document of the whole bloc tree.
type Snapshot struct {
	Version    string         `json:"version" yaml:"version"`
	ExportedAt time.Time      `json:"exported_at" yaml:"exported_at"`
	Blocs      []SnapshotBloc `json:"blocs" yaml:"blocs"`
}

// SnapshotBloc is one bloc in a snapshot.
type SnapshotBloc struct {
	ID                  string              `json:"id" yaml:"id"`
	Name                string              `json:"name" yaml:"name"`
	AreaHectares        float64             `json:"area_hectares" yaml:"area_hectares"`
	CycleNumber         int                 `json:"cycle_number" yaml:"cycle_number"`
	VarietyName         string              `json:"variety_name,omitempty" yaml:"variety_name,omitempty"`
	PlantingDate        domain.Date         `json:"planting_date" yaml:"planting_date"`
	PlannedHarvestDate  domain.Date         `json:"planned_harvest_date" yaml:"planned_harvest_date"`
	ExpectedYieldTonsHa float64             `json:"expected_yield_tons_ha" yaml:"expected_yield_tons_ha"`
	GrowthStage         domain.GrowthStage  `json:"growth_stage" yaml:"growth_stage"`
	Notes               string              `json:"notes,omitempty" yaml:"notes,omitempty"`
	RetiredAt           *time.Time          `json:"retired_at,omitempty" yaml:"retired_at,omitempty"`
	Operations          []SnapshotOperation `json:"operations" yaml:"operations"`
}

// SnapshotOperation is one operation in a snapshot.
type SnapshotOperation struct {
	ID               string                `json:"id" yaml:"id"`
	ProductName      string                `json:"product_name" yaml:"product_name"`
	Method           domain.Method         `json:"method" yaml:"method"`
	PlannedStartDate domain.Date           `json:"planned_start_date" yaml:"planned_start_date"`
	PlannedEndDate   domain.Date           `json:"planned_end_date" yaml:"planned_end_date"`
	PlannedRate      float64               `json:"planned_rate" yaml:"planned_rate"`
	EstProductCost   decimal.Decimal       `json:"est_product_cost" yaml:"est_product_cost"`
	EstResourceCost  decimal.Decimal       `json:"est_resource_cost" yaml:"est_resource_cost"`
	ActProductCost   decimal.Decimal       `json:"act_product_cost" yaml:"act_product_cost"`
	ActResourceCost  decimal.Decimal       `json:"act_resource_cost" yaml:"act_resource_cost"`
	Status           domain.WorkStatus     `json:"status" yaml:"status"`
	WorkPackages     []SnapshotWorkPackage `json:"work_packages" yaml:"work_packages"`
}

// SnapshotWorkPackage is one work package in a snapshot. Status may be empty
// for legacy documents; Completed is then used to infer it.
type SnapshotWorkPackage struct {
	ID        string            `json:"id" yaml:"id"`
	Date      domain.Date       `json:"date" yaml:"date"`
	Area      float64           `json:"area" yaml:"area"`
	Rate      float64           `json:"rate" yaml:"rate"`
	Quantity  float64           `json:"quantity" yaml:"quantity"`
	Status    domain.WorkStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Completed bool              `json:"completed" yaml:"completed"`
}

// ImportResult counts what an import created and skipped.
type ImportResult struct {
	BlocsCreated        int
	BlocsSkipped        int
	OperationsCreated   int
	WorkPackagesCreated int
}

// ExportSnapshot captures the current forest. Retired blocs are included only when asked.
func (w *Workspace) ExportSnapshot(includeRetired bool) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: w.clock().UTC(),
		Blocs:      make([]SnapshotBloc, 0, len(w.blocs)),
	}
	for _, b := range w.blocs {
		if b.IsRetired() && !includeRetired {
			continue
		}
		snap.Blocs = append(snap.Blocs, snapshotBlocFromDomain(*b))
	}
	return snap
}

// ImportSnapshot creates every bloc of snap whose id is not already loaded, then reloads.
// Existing blocs are skipped whole; the document is validated before anything is written.
func (w *Workspace) ImportSnapshot(ctx context.Context, snap Snapshot) (ImportResult, error) {
	if err := snap.Validate(); err != nil {
		return ImportResult{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkImportIDs(snap); err != nil {
		return ImportResult{}, err
	}
	var res ImportResult
	for _, sb := range snap.Blocs {
		if w.blocs.FindBloc(sb.ID) != nil {
			res.BlocsSkipped++
			w.logger.Debug("import skipped existing bloc", "bloc_id", sb.ID)
			continue
		}
		ops, wps, err := w.importBloc(ctx, sb)
		if err != nil {
			if reloadErr := w.loadLocked(ctx); reloadErr != nil {
				return res, errors.Join(fmt.Errorf("import bloc %s: %w", sb.ID, joinPersistence(err)), reloadErr)
			}
			return res, fmt.Errorf("import bloc %s: %w", sb.ID, joinPersistence(err))
		}
		res.BlocsCreated++
		res.OperationsCreated += ops
		res.WorkPackagesCreated += wps
	}
	if err := w.loadLocked(ctx); err != nil {
		return res, err
	}
	w.logger.Info("snapshot imported", "blocs_created", res.BlocsCreated, "blocs_skipped", res.BlocsSkipped)
	return res, nil
}

// checkImportIDs rejects a new bloc whose operations or work packages reuse an
// id already loaded under some other bloc. Caller holds w.mu.
func (w *Workspace) checkImportIDs(snap Snapshot) error {
	for _, sb := range snap.Blocs {
		if w.blocs.FindBloc(sb.ID) != nil {
			continue
		}
		for _, so := range sb.Operations {
			if w.blocs.HasOperationID(strings.TrimSpace(so.ID)) {
				return fmt.Errorf("%w: bloc %s: operation id %q: %w", ErrInvalidSnapshot, sb.ID, so.ID, domain.ErrDuplicateID)
			}
			for _, sw := range so.WorkPackages {
				if w.blocs.HasWorkPackageID(strings.TrimSpace(sw.ID)) {
					return fmt.Errorf("%w: bloc %s: work package id %q: %w", ErrInvalidSnapshot, sb.ID, sw.ID, domain.ErrDuplicateID)
				}
			}
		}
	}
	return nil
}

// importBloc writes one snapshot bloc and its children through the store.
func (w *Workspace) importBloc(ctx context.Context, sb SnapshotBloc) (int, int, error) {
	b, err := sb.toDomain()
	if err != nil {
		return 0, 0, err
	}
	blocUUID, err := w.store.CreateBloc(ctx, b)
	if err != nil {
		return 0, 0, err
	}
	var ops, wps int
	for _, so := range sb.Operations {
		op, err := so.toDomain()
		if err != nil {
			return ops, wps, err
		}
		opUUID, err := w.store.CreateOperation(ctx, blocUUID, op)
		if err != nil {
			return ops, wps, err
		}
		ops++
		for _, sw := range so.WorkPackages {
			wp, err := sw.toDomain()
			if err != nil {
				return ops, wps, err
			}
			if _, err := w.store.CreateWorkPackage(ctx, opUUID, wp); err != nil {
				return ops, wps, err
			}
			wps++
		}
	}
	return ops, wps, nil
}

// Validate checks the document version, id uniqueness, and every node's fields.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.Version) != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidSnapshot, s.Version)
	}
	seen := map[string]struct{}{}
	unique := func(kind, id string) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("%w: %s id is required", ErrInvalidSnapshot, kind)
		}
		if _, ok := seen[kind+":"+id]; ok {
			return fmt.Errorf("%w: duplicate %s id %q", ErrInvalidSnapshot, kind, id)
		}
		seen[kind+":"+id] = struct{}{}
		return nil
	}
	for _, sb := range s.Blocs {
		if err := unique("bloc", sb.ID); err != nil {
			return err
		}
		if _, err := sb.toDomain(); err != nil {
			return fmt.Errorf("%w: bloc %s: %w", ErrInvalidSnapshot, sb.ID, err)
		}
		for _, so := range sb.Operations {
			if err := unique("operation", so.ID); err != nil {
				return err
			}
			if _, err := so.toDomain(); err != nil {
				return fmt.Errorf("%w: operation %s: %w", ErrInvalidSnapshot, so.ID, err)
			}
			for _, sw := range so.WorkPackages {
				if err := unique("work_package", sw.ID); err != nil {
					return err
				}
				if _, err := sw.toDomain(); err != nil {
					return fmt.Errorf("%w: work package %s: %w", ErrInvalidSnapshot, sw.ID, err)
				}
			}
		}
	}
	return nil
}

// EncodeSnapshot writes snap to out in the given format.
func EncodeSnapshot(out io.Writer, snap Snapshot, format SnapshotFormat) error {
	switch format {
	case SnapshotFormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode snapshot yaml: %w", err)
		}
		return enc.Close()
	case SnapshotFormatJSON, "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode snapshot json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidSnapshot, format)
	}
}

// DecodeSnapshot reads a snapshot document in the given format.
func DecodeSnapshot(in io.Reader, format SnapshotFormat) (Snapshot, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	switch format {
	case SnapshotFormatYAML:
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidSnapshot, err)
		}
	case SnapshotFormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&snap); err != nil {
			return Snapshot{}, fmt.Errorf("%w: decode json: %w", ErrInvalidSnapshot, err)
		}
	default:
		return Snapshot{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidSnapshot, format)
	}
	return snap, nil
}

// snapshotBlocFromDomain converts a bloc and its subtree.
func snapshotBlocFromDomain(b domain.Bloc) SnapshotBloc {
	out := SnapshotBloc{
		ID:                  b.ID,
		Name:                b.Name,
		AreaHectares:        b.AreaHectares,
		CycleNumber:         b.CycleNumber,
		VarietyName:         b.VarietyName,
		PlantingDate:        b.PlantingDate,
		PlannedHarvestDate:  b.PlannedHarvestDate,
		ExpectedYieldTonsHa: b.ExpectedYieldTonsHa,
		GrowthStage:         b.GrowthStage,
		Notes:               b.Notes,
		RetiredAt:           copyTimePtr(b.RetiredAt),
		Operations:          make([]SnapshotOperation, 0, len(b.Operations)),
	}
	for _, op := range b.Operations {
		so := SnapshotOperation{
			ID:               op.ID,
			ProductName:      op.ProductName,
			Method:           op.Method,
			PlannedStartDate: op.PlannedStartDate,
			PlannedEndDate:   op.PlannedEndDate,
			PlannedRate:      op.PlannedRate,
			EstProductCost:   op.EstProductCost,
			EstResourceCost:  op.EstResourceCost,
			ActProductCost:   op.ActProductCost,
			ActResourceCost:  op.ActResourceCost,
			Status:           op.Status,
			WorkPackages:     make([]SnapshotWorkPackage, 0, len(op.WorkPackages)),
		}
		for _, wp := range op.WorkPackages {
			so.WorkPackages = append(so.WorkPackages, SnapshotWorkPackage{
				ID:        wp.ID,
				Date:      wp.Date,
				Area:      wp.Area,
				Rate:      wp.Rate,
				Quantity:  wp.Quantity,
				Status:    wp.EffectiveStatus(),
				Completed: wp.IsComplete(),
			})
		}
		out.Operations = append(out.Operations, so)
	}
	return out
}

// toDomain builds a validated bloc without children.
func (sb SnapshotBloc) toDomain() (domain.Bloc, error) {
	b, err := domain.NewBloc(domain.BlocInput{
		ID:                  sb.ID,
		Name:                sb.Name,
		AreaHectares:        sb.AreaHectares,
		CycleNumber:         sb.CycleNumber,
		VarietyName:         sb.VarietyName,
		PlantingDate:        sb.PlantingDate,
		PlannedHarvestDate:  sb.PlannedHarvestDate,
		ExpectedYieldTonsHa: sb.ExpectedYieldTonsHa,
		GrowthStage:         sb.GrowthStage,
		Notes:               sb.Notes,
	})
	if err != nil {
		return domain.Bloc{}, err
	}
	b.RetiredAt = copyTimePtr(sb.RetiredAt)
	return b, nil
}

// toDomain builds a validated operation without children.
func (so SnapshotOperation) toDomain() (domain.Operation, error) {
	op, err := domain.NewOperation(domain.OperationInput{
		ID:               so.ID,
		ProductName:      so.ProductName,
		Method:           so.Method,
		PlannedStartDate: so.PlannedStartDate,
		PlannedEndDate:   so.PlannedEndDate,
		PlannedRate:      so.PlannedRate,
		EstProductCost:   so.EstProductCost,
		EstResourceCost:  so.EstResourceCost,
		ActProductCost:   so.ActProductCost,
		ActResourceCost:  so.ActResourceCost,
	})
	if err != nil {
		return domain.Operation{}, err
	}
	if strings.TrimSpace(string(so.Status)) != "" {
		status, err := domain.ParseWorkStatus(string(so.Status))
		if err != nil {
			return domain.Operation{}, err
		}
		op.Status = status
	}
	return op, nil
}

// toDomain builds a validated work package. Legacy rows carry no status; it is
// inferred from Completed and the recorded values, and their date may be unset.
func (sw SnapshotWorkPackage) toDomain() (domain.WorkPackage, error) {
	in := domain.WorkPackageInput{
		ID:       sw.ID,
		Date:     sw.Date,
		Area:     sw.Area,
		Rate:     sw.Rate,
		Quantity: sw.Quantity,
		Status:   sw.Status,
	}
	if strings.TrimSpace(string(sw.Status)) != "" {
		return domain.NewWorkPackage(in)
	}
	legacy := domain.WorkPackage{Date: sw.Date, Area: sw.Area, Quantity: sw.Quantity, Completed: sw.Completed}
	in.Status = legacy.EffectiveStatus()
	return domain.RestoreWorkPackage(in)
}

// copyTimePtr returns a detached copy of an optional timestamp.
func copyTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
