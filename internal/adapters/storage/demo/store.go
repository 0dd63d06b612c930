package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
)

// documentKey holds the whole forest and activity log.
const documentKey = "canetrack/forest"

// maxEvents bounds the retained activity log.
const maxEvents = 500

// Store implements app.Store over a KV.
type Store struct {
	mu  sync.Mutex
	kv  KV
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for activity records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps kv.
func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenFile opens a file-backed store at path.
func OpenFile(path string, opts ...Option) (*Store, error) {
	kv, err := OpenFileKV(path)
	if err != nil {
		return nil, err
	}
	return NewStore(kv, opts...), nil
}

// NewMemoryStore returns a store that lives only in memory.
func NewMemoryStore(opts ...Option) *Store {
	return NewStore(NewMemoryKV(), opts...)
}

// document is the persisted shape of the whole store.
type document struct {
	Blocs       []*blocRecord `json:"blocs"`
	Events      []eventRecord `json:"events"`
	NextEventID int64         `json:"next_event_id"`
}

type blocRecord struct {
	UUID                string             `json:"uuid"`
	ID                  string             `json:"id"`
	Version             int64              `json:"version"`
	Name                string             `json:"name"`
	AreaHectares        float64            `json:"area_hectares"`
	CycleNumber         int                `json:"cycle_number"`
	VarietyName         string             `json:"variety_name"`
	PlantingDate        domain.Date        `json:"planting_date"`
	PlannedHarvestDate  domain.Date        `json:"planned_harvest_date"`
	ExpectedYieldTonsHa float64            `json:"expected_yield_tons_ha"`
	GrowthStage         domain.GrowthStage `json:"growth_stage"`
	Notes               string             `json:"notes"`
	RetiredAt           *time.Time         `json:"retired_at,omitempty"`
	Operations          []*operationRecord `json:"operations"`
}

type operationRecord struct {
	UUID             string               `json:"uuid"`
	ID               string               `json:"id"`
	Version          int64                `json:"version"`
	ProductName      string               `json:"product_name"`
	Method           domain.Method        `json:"method"`
	PlannedStartDate domain.Date          `json:"planned_start_date"`
	PlannedEndDate   domain.Date          `json:"planned_end_date"`
	PlannedRate      float64              `json:"planned_rate"`
	EstProductCost   decimal.Decimal      `json:"est_product_cost"`
	EstResourceCost  decimal.Decimal      `json:"est_resource_cost"`
	ActProductCost   decimal.Decimal      `json:"act_product_cost"`
	ActResourceCost  decimal.Decimal      `json:"act_resource_cost"`
	Status           domain.WorkStatus    `json:"status"`
	WorkPackages     []*workPackageRecord `json:"work_packages"`
}

type workPackageRecord struct {
	UUID      string            `json:"uuid"`
	ID        string            `json:"id"`
	Version   int64             `json:"version"`
	Date      domain.Date       `json:"date"`
	Area      float64           `json:"area"`
	Rate      float64           `json:"rate"`
	Quantity  float64           `json:"quantity"`
	Status    domain.WorkStatus `json:"status,omitempty"`
	Completed bool              `json:"completed"`
}

type eventRecord struct {
	ID         int64             `json:"id"`
	EntityKind domain.EntityKind `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	EntityUUID string            `json:"entity_uuid"`
	Operation  string            `json:"operation"`
	Metadata   map[string]string `json:"metadata"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// LoadBlocs returns the stored forest with derived fields computed.
func (s *Store) LoadBlocs(ctx context.Context) ([]*domain.Bloc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Bloc, 0, len(doc.Blocs))
	for _, rec := range doc.Blocs {
		b := rec.toDomain()
		out = append(out, &b)
	}
	return domain.DeriveAll(out), nil
}

// CreateBloc appends a bloc and returns its store uuid.
func (s *Store) CreateBloc(ctx context.Context, b domain.Bloc) (string, error) {
	if strings.TrimSpace(b.ID) == "" {
		return "", domain.ErrInvalidID
	}
	id := uuid.NewString()
	err := s.update(ctx, func(doc *document) error {
		if doc.findBloc(func(r *blocRecord) bool { return r.ID == b.ID }) != nil {
			return fmt.Errorf("bloc id %q: %w", b.ID, domain.ErrDuplicateID)
		}
		rec := blocRecordFromDomain(b)
		rec.UUID = id
		rec.Version = versionOrOne(b.Version)
		doc.Blocs = append(doc.Blocs, rec)
		s.appendEvent(doc, domain.EntityBloc, b.ID, id, domain.ChangeOperationCreate, map[string]string{"name": b.Name})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateBloc replaces a bloc's own fields if the stored record is at Version-1.
func (s *Store) UpdateBloc(ctx context.Context, b domain.Bloc) error {
	return s.update(ctx, func(doc *document) error {
		cur := doc.findBloc(func(r *blocRecord) bool { return r.UUID == b.UUID })
		if cur == nil {
			return app.ErrNotFound
		}
		if cur.Version != b.Version-1 {
			return app.ErrVersionConflict
		}
		op := domain.ChangeOperationUpdate
		if cur.RetiredAt == nil && b.RetiredAt != nil {
			op = domain.ChangeOperationRetire
		}
		next := blocRecordFromDomain(b)
		next.UUID = cur.UUID
		next.Operations = cur.Operations
		*cur = *next
		s.appendEvent(doc, domain.EntityBloc, b.ID, b.UUID, op, map[string]string{"name": b.Name, "version": strconv.FormatInt(b.Version, 10)})
		return nil
	})
}

// DeleteBloc removes a bloc and its subtree.
func (s *Store) DeleteBloc(ctx context.Context, id string) error {
	return s.update(ctx, func(doc *document) error {
		i := slices.IndexFunc(doc.Blocs, func(r *blocRecord) bool { return r.UUID == id })
		if i < 0 {
			return app.ErrNotFound
		}
		rec := doc.Blocs[i]
		doc.Blocs = slices.Delete(doc.Blocs, i, i+1)
		s.appendEvent(doc, domain.EntityBloc, rec.ID, id, domain.ChangeOperationDelete, map[string]string{"name": rec.Name})
		return nil
	})
}

// CreateOperation appends an operation to the bloc with store uuid blocUUID.
func (s *Store) CreateOperation(ctx context.Context, blocUUID string, op domain.Operation) (string, error) {
	if strings.TrimSpace(op.ID) == "" {
		return "", domain.ErrInvalidID
	}
	id := uuid.NewString()
	err := s.update(ctx, func(doc *document) error {
		parent := doc.findBloc(func(r *blocRecord) bool { return r.UUID == blocUUID })
		if parent == nil {
			return app.ErrNotFound
		}
		if doc.hasOperationID(op.ID) {
			return fmt.Errorf("operation id %q: %w", op.ID, domain.ErrDuplicateID)
		}
		rec := operationRecordFromDomain(op)
		rec.UUID = id
		rec.Version = versionOrOne(op.Version)
		parent.Operations = append(parent.Operations, rec)
		s.appendEvent(doc, domain.EntityOperation, op.ID, id, domain.ChangeOperationCreate, map[string]string{"product_name": op.ProductName, "bloc_uuid": blocUUID})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateOperation replaces an operation's own fields if the stored record is at Version-1.
func (s *Store) UpdateOperation(ctx context.Context, op domain.Operation) error {
	return s.update(ctx, func(doc *document) error {
		_, cur := doc.findOperation(op.UUID)
		if cur == nil {
			return app.ErrNotFound
		}
		if cur.Version != op.Version-1 {
			return app.ErrVersionConflict
		}
		next := operationRecordFromDomain(op)
		next.UUID = cur.UUID
		next.WorkPackages = cur.WorkPackages
		*cur = *next
		s.appendEvent(doc, domain.EntityOperation, op.ID, op.UUID, domain.ChangeOperationUpdate, map[string]string{"product_name": op.ProductName, "version": strconv.FormatInt(op.Version, 10)})
		return nil
	})
}

// DeleteOperation removes an operation and its work packages.
func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	return s.update(ctx, func(doc *document) error {
		parent, cur := doc.findOperation(id)
		if cur == nil {
			return app.ErrNotFound
		}
		parent.Operations = slices.DeleteFunc(parent.Operations, func(r *operationRecord) bool { return r.UUID == id })
		s.appendEvent(doc, domain.EntityOperation, cur.ID, id, domain.ChangeOperationDelete, map[string]string{"product_name": cur.ProductName})
		return nil
	})
}

// CreateWorkPackage appends a work package to the operation with store uuid opUUID.
func (s *Store) CreateWorkPackage(ctx context.Context, opUUID string, wp domain.WorkPackage) (string, error) {
	if strings.TrimSpace(wp.ID) == "" {
		return "", domain.ErrInvalidID
	}
	id := uuid.NewString()
	err := s.update(ctx, func(doc *document) error {
		_, parent := doc.findOperation(opUUID)
		if parent == nil {
			return app.ErrNotFound
		}
		if doc.hasWorkPackageID(wp.ID) {
			return fmt.Errorf("work package id %q: %w", wp.ID, domain.ErrDuplicateID)
		}
		rec := workPackageRecordFromDomain(wp)
		rec.UUID = id
		rec.Version = versionOrOne(wp.Version)
		parent.WorkPackages = append(parent.WorkPackages, rec)
		s.appendEvent(doc, domain.EntityWorkPackage, wp.ID, id, domain.ChangeOperationCreate, map[string]string{"operation_uuid": opUUID, "status": string(wp.EffectiveStatus())})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateWorkPackage replaces a work package if the stored record is at Version-1.
func (s *Store) UpdateWorkPackage(ctx context.Context, wp domain.WorkPackage) error {
	return s.update(ctx, func(doc *document) error {
		_, cur := doc.findWorkPackage(wp.UUID)
		if cur == nil {
			return app.ErrNotFound
		}
		if cur.Version != wp.Version-1 {
			return app.ErrVersionConflict
		}
		meta := map[string]string{"version": strconv.FormatInt(wp.Version, 10)}
		if from, to := cur.toDomain().EffectiveStatus(), wp.EffectiveStatus(); from != to {
			meta["from_status"] = string(from)
			meta["to_status"] = string(to)
		}
		next := workPackageRecordFromDomain(wp)
		next.UUID = cur.UUID
		*cur = *next
		s.appendEvent(doc, domain.EntityWorkPackage, wp.ID, wp.UUID, domain.ChangeOperationUpdate, meta)
		return nil
	})
}

// DeleteWorkPackage removes one work package.
func (s *Store) DeleteWorkPackage(ctx context.Context, id string) error {
	return s.update(ctx, func(doc *document) error {
		parent, cur := doc.findWorkPackage(id)
		if cur == nil {
			return app.ErrNotFound
		}
		parent.WorkPackages = slices.DeleteFunc(parent.WorkPackages, func(r *workPackageRecord) bool { return r.UUID == id })
		s.appendEvent(doc, domain.EntityWorkPackage, cur.ID, id, domain.ChangeOperationDelete, map[string]string{})
		return nil
	})
}

// ListChangeEvents lists recent activity, newest first.
func (s *Store) ListChangeEvents(ctx context.Context, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChangeEvent, 0, min(limit, len(doc.Events)))
	for i := len(doc.Events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := doc.Events[i]
		meta := make(map[string]string, len(ev.Metadata))
		for k, v := range ev.Metadata {
			meta[k] = v
		}
		out = append(out, domain.ChangeEvent{
			ID:         ev.ID,
			EntityKind: ev.EntityKind,
			EntityID:   ev.EntityID,
			EntityUUID: ev.EntityUUID,
			Operation:  domain.ChangeOperation(ev.Operation),
			Metadata:   meta,
			OccurredAt: ev.OccurredAt,
		})
	}
	return out, nil
}

// update runs fn against the current document and saves it when fn succeeds.
func (s *Store) update(ctx context.Context, fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(ctx, doc)
}

// load reads the document; a missing key is an empty store.
func (s *Store) load(ctx context.Context) (*document, error) {
	raw, err := s.kv.Get(ctx, documentKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return &document{Blocs: []*blocRecord{}}, nil
		}
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode demo document: %w", err)
	}
	return &doc, nil
}

// save writes the document back.
func (s *Store) save(ctx context.Context, doc *document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode demo document: %w", err)
	}
	return s.kv.Put(ctx, documentKey, raw)
}

// appendEvent records one activity entry, dropping the oldest past maxEvents.
func (s *Store) appendEvent(doc *document, kind domain.EntityKind, entityID, entityUUID string, op domain.ChangeOperation, meta map[string]string) {
	doc.NextEventID++
	doc.Events = append(doc.Events, eventRecord{
		ID:         doc.NextEventID,
		EntityKind: kind,
		EntityID:   entityID,
		EntityUUID: entityUUID,
		Operation:  string(op),
		Metadata:   meta,
		OccurredAt: s.now().UTC(),
	})
	if over := len(doc.Events) - maxEvents; over > 0 {
		doc.Events = slices.Delete(doc.Events, 0, over)
	}
}

func (d *document) findBloc(match func(*blocRecord) bool) *blocRecord {
	for _, b := range d.Blocs {
		if match(b) {
			return b
		}
	}
	return nil
}

func (d *document) findOperation(id string) (*blocRecord, *operationRecord) {
	for _, b := range d.Blocs {
		for _, op := range b.Operations {
			if op.UUID == id {
				return b, op
			}
		}
	}
	return nil, nil
}

func (d *document) findWorkPackage(id string) (*operationRecord, *workPackageRecord) {
	for _, b := range d.Blocs {
		for _, op := range b.Operations {
			for _, wp := range op.WorkPackages {
				if wp.UUID == id {
					return op, wp
				}
			}
		}
	}
	return nil, nil
}

// hasOperationID reports whether any bloc holds an operation with the client id.
func (d *document) hasOperationID(id string) bool {
	for _, b := range d.Blocs {
		for _, op := range b.Operations {
			if op.ID == id {
				return true
			}
		}
	}
	return false
}

// hasWorkPackageID reports whether any operation holds a work package with the client id.
func (d *document) hasWorkPackageID(id string) bool {
	for _, b := range d.Blocs {
		for _, op := range b.Operations {
			for _, wp := range op.WorkPackages {
				if wp.ID == id {
					return true
				}
			}
		}
	}
	return false
}

func blocRecordFromDomain(b domain.Bloc) *blocRecord {
	rec := &blocRecord{
		UUID:                b.UUID,
		ID:                  b.ID,
		Version:             b.Version,
		Name:                b.Name,
		AreaHectares:        b.AreaHectares,
		CycleNumber:         b.CycleNumber,
		VarietyName:         b.VarietyName,
		PlantingDate:        b.PlantingDate,
		PlannedHarvestDate:  b.PlannedHarvestDate,
		ExpectedYieldTonsHa: b.ExpectedYieldTonsHa,
		GrowthStage:         b.GrowthStage,
		Notes:               b.Notes,
		Operations:          []*operationRecord{},
	}
	if b.RetiredAt != nil {
		ts := b.RetiredAt.UTC()
		rec.RetiredAt = &ts
	}
	return rec
}

func operationRecordFromDomain(op domain.Operation) *operationRecord {
	return &operationRecord{
		UUID:             op.UUID,
		ID:               op.ID,
		Version:          op.Version,
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
		WorkPackages:     []*workPackageRecord{},
	}
}

func workPackageRecordFromDomain(wp domain.WorkPackage) *workPackageRecord {
	return &workPackageRecord{
		UUID:      wp.UUID,
		ID:        wp.ID,
		Version:   wp.Version,
		Date:      wp.Date,
		Area:      wp.Area,
		Rate:      wp.Rate,
		Quantity:  wp.Quantity,
		Status:    wp.Status,
		Completed: wp.Completed,
	}
}

func (r *blocRecord) toDomain() domain.Bloc {
	b := domain.Bloc{
		ID:                  r.ID,
		UUID:                r.UUID,
		Version:             r.Version,
		Name:                r.Name,
		AreaHectares:        r.AreaHectares,
		CycleNumber:         r.CycleNumber,
		VarietyName:         r.VarietyName,
		PlantingDate:        r.PlantingDate,
		PlannedHarvestDate:  r.PlannedHarvestDate,
		ExpectedYieldTonsHa: r.ExpectedYieldTonsHa,
		GrowthStage:         r.GrowthStage,
		Notes:               r.Notes,
		Operations:          make([]*domain.Operation, 0, len(r.Operations)),
	}
	if r.RetiredAt != nil {
		ts := *r.RetiredAt
		b.RetiredAt = &ts
	}
	for _, rec := range r.Operations {
		op := rec.toDomain()
		b.Operations = append(b.Operations, &op)
	}
	return b
}

func (r *operationRecord) toDomain() domain.Operation {
	op := domain.Operation{
		ID:               r.ID,
		UUID:             r.UUID,
		Version:          r.Version,
		ProductName:      r.ProductName,
		Method:           r.Method,
		PlannedStartDate: r.PlannedStartDate,
		PlannedEndDate:   r.PlannedEndDate,
		PlannedRate:      r.PlannedRate,
		EstProductCost:   r.EstProductCost,
		EstResourceCost:  r.EstResourceCost,
		ActProductCost:   r.ActProductCost,
		ActResourceCost:  r.ActResourceCost,
		Status:           r.Status,
		WorkPackages:     make([]*domain.WorkPackage, 0, len(r.WorkPackages)),
	}
	for _, rec := range r.WorkPackages {
		wp := rec.toDomain()
		op.WorkPackages = append(op.WorkPackages, &wp)
	}
	return op
}

func (r *workPackageRecord) toDomain() domain.WorkPackage {
	return domain.WorkPackage{
		ID:        r.ID,
		UUID:      r.UUID,
		Version:   r.Version,
		Date:      r.Date,
		Area:      r.Area,
		Rate:      r.Rate,
		Quantity:  r.Quantity,
		Status:    r.Status,
		Completed: r.Completed,
	}
}

// versionOrOne returns v, or 1 for values that were never versioned.
func versionOrOne(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}
