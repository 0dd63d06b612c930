package demo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/app"
	"github.com/hylla/canetrack/internal/domain"
)

// GenerateConfig controls demo data generation.
type GenerateConfig struct {
	Seed  uint64
	Blocs int
	Now   time.Time
}

var (
	demoVarieties = []string{"R570", "R579", "M1176/77", "M2593/92", "R585"}
	demoStages    = []domain.GrowthStage{
		domain.GrowthStageGermination,
		domain.GrowthStageTillering,
		domain.GrowthStageGrandGrowth,
		domain.GrowthStageMaturation,
	}
	demoProducts = []struct {
		name   string
		method domain.Method
		rate   float64
		cost   int64
	}{
		{"Land preparation", domain.MethodMechanical, 1, 4500},
		{"Planting", domain.MethodMixed, 8, 12000},
		{"Urea top dressing", domain.MethodManual, 0.25, 2100},
		{"Pre-emergence herbicide", domain.MethodMechanical, 3, 1800},
		{"Irrigation", domain.MethodMechanical, 40, 900},
	}
)

// Generate builds a deterministic demo snapshot; equal configs give equal documents.
func Generate(cfg GenerateConfig) app.Snapshot {
	if cfg.Blocs <= 0 {
		cfg.Blocs = 6
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Date(2026, time.February, 21, 12, 0, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	today := domain.DateOf(cfg.Now)

	snap := app.Snapshot{
		Version:    app.SnapshotVersion,
		ExportedAt: cfg.Now.UTC(),
		Blocs:      make([]app.SnapshotBloc, 0, cfg.Blocs),
	}
	for i := range cfg.Blocs {
		area := round2(4 + rng.Float64()*20)
		cycle := 1 + rng.IntN(5)
		planted := today.Time().AddDate(0, 0, -(30 + rng.IntN(300)))
		blocID := fmt.Sprintf("demo-b%02d", i+1)
		bloc := app.SnapshotBloc{
			ID:                  blocID,
			Name:                fmt.Sprintf("Bloc %c%d", 'A'+rune(i/4), i%4+1),
			AreaHectares:        area,
			CycleNumber:         cycle,
			VarietyName:         demoVarieties[rng.IntN(len(demoVarieties))],
			PlantingDate:        domain.DateOf(planted),
			PlannedHarvestDate:  domain.DateOf(planted.AddDate(0, 12, 0)),
			ExpectedYieldTonsHa: round2(70 + rng.Float64()*30),
			GrowthStage:         demoStages[rng.IntN(len(demoStages))],
			Notes:               fmt.Sprintf("## %s\n\nCycle %d on **%.2f ha**.", blocID, cycle, area),
			Operations:          []app.SnapshotOperation{},
		}

		// The last bloc stays empty to show the add action.
		opCount := 0
		if i != cfg.Blocs-1 {
			opCount = 1 + rng.IntN(3)
		}
		for j := range opCount {
			p := demoProducts[(i+j)%len(demoProducts)]
			start := planted.AddDate(0, 0, j*14)
			est := decimal.NewFromInt(p.cost).Mul(decimal.NewFromFloat(area)).Round(2)
			op := app.SnapshotOperation{
				ID:               fmt.Sprintf("%s-o%d", blocID, j+1),
				ProductName:      p.name,
				Method:           p.method,
				PlannedStartDate: domain.DateOf(start),
				PlannedEndDate:   domain.DateOf(start.AddDate(0, 0, 10)),
				PlannedRate:      p.rate,
				EstProductCost:   est,
				EstResourceCost:  est.Div(decimal.NewFromInt(4)).Round(2),
				ActProductCost:   decimal.Zero,
				ActResourceCost:  decimal.Zero,
				Status:           domain.StatusInProgress,
				WorkPackages:     []app.SnapshotWorkPackage{},
			}

			remaining := area
			wpCount := rng.IntN(4)
			for k := range wpCount {
				chunk := round2(math.Min(remaining, area/float64(wpCount)))
				remaining -= chunk
				status := []domain.WorkStatus{domain.StatusComplete, domain.StatusInProgress, domain.StatusNotStarted}[rng.IntN(3)]
				op.WorkPackages = append(op.WorkPackages, app.SnapshotWorkPackage{
					ID:        fmt.Sprintf("%s-w%d", op.ID, k+1),
					Date:      domain.DateOf(start.AddDate(0, 0, k*2)),
					Area:      chunk,
					Rate:      p.rate,
					Quantity:  round2(chunk * p.rate),
					Status:    status,
					Completed: status == domain.StatusComplete,
				})
				if status == domain.StatusComplete {
					op.ActProductCost = op.ActProductCost.Add(decimal.NewFromInt(p.cost).Mul(decimal.NewFromFloat(chunk)).Round(2))
				}
			}
			if wpCount == 0 {
				op.Status = domain.StatusNotStarted
			}
			bloc.Operations = append(bloc.Operations, op)
		}
		snap.Blocs = append(snap.Blocs, bloc)
	}
	return snap
}

// Seed writes generated demo data through store, skipping blocs that already exist.
func Seed(ctx context.Context, store app.Store, cfg GenerateConfig, logger app.Logger) (app.ImportResult, error) {
	ws := app.NewWorkspace(store, nil, nil, logger, app.WorkspaceConfig{})
	if err := ws.Load(ctx); err != nil {
		return app.ImportResult{}, err
	}
	return ws.ImportSnapshot(ctx, Generate(cfg))
}

// round2 rounds to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
