// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/shopspring/decimal"

	"github.com/hylla/canetrack/internal/adapters/server/common"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the workspace tools.
func NewHandler(cfg Config, svc common.WorkspaceService) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("workspace service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerReadTools(mcpSrv, svc)
	registerCreateTools(mcpSrv, svc)
	registerMutationTools(mcpSrv, svc)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "canetrack"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerReadTools registers `canetrack.list_blocs` and `canetrack.list_changes`.
func registerReadTools(srv *mcpserver.MCPServer, svc common.WorkspaceService) {
	srv.AddTool(
		mcp.NewTool(
			"canetrack.list_blocs",
			mcp.WithDescription("List every bloc with its operations, work packages, progress, and cost totals."),
			mcp.WithBoolean("include_retired", mcp.Description("Include retired blocs (default true)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			forest, err := svc.ListBlocs(ctx, req.GetBool("include_retired", true))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_blocs", forest)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"canetrack.list_changes",
			mcp.WithDescription("List recent activity, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum events to return (default 50)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			events, err := svc.ListChanges(ctx, req.GetInt("limit", 0))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_changes", map[string]any{"events": events})
		},
	)
}

// registerCreateTools registers the add_* tools.
func registerCreateTools(srv *mcpserver.MCPServer, svc common.WorkspaceService) {
	srv.AddTool(
		mcp.NewTool(
			"canetrack.add_bloc",
			mcp.WithDescription("Create a bloc. Dates are YYYY-MM-DD."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Bloc name")),
			mcp.WithNumber("area_hectares", mcp.Required(), mcp.Description("Bloc area in hectares, > 0")),
			mcp.WithString("id", mcp.Description("Client id (generated when empty)")),
			mcp.WithNumber("cycle_number", mcp.Description("1 for plantation, 2+ for ratoons")),
			mcp.WithString("variety_name", mcp.Description("Cane variety")),
			mcp.WithString("planting_date", mcp.Description("Planting date")),
			mcp.WithString("planned_harvest_date", mcp.Description("Planned harvest date")),
			mcp.WithNumber("expected_yield_tons_ha", mcp.Description("Expected yield in t/ha")),
			mcp.WithString("growth_stage", mcp.Description("Growth stage")),
			mcp.WithString("notes", mcp.Description("Markdown notes")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			area, err := req.RequireFloat("area_hectares")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res, err := svc.AddBloc(ctx, common.AddBlocRequest{
				ID:                  req.GetString("id", ""),
				Name:                name,
				AreaHectares:        area,
				CycleNumber:         req.GetInt("cycle_number", 0),
				VarietyName:         req.GetString("variety_name", ""),
				PlantingDate:        req.GetString("planting_date", ""),
				PlannedHarvestDate:  req.GetString("planned_harvest_date", ""),
				ExpectedYieldTonsHa: req.GetFloat("expected_yield_tons_ha", 0),
				GrowthStage:         req.GetString("growth_stage", ""),
				Notes:               req.GetString("notes", ""),
			})
			return mutationResult("add_bloc", res, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"canetrack.add_operation",
			mcp.WithDescription("Create an operation under a bloc. Costs are decimal strings."),
			mcp.WithString("bloc_id", mcp.Required(), mcp.Description("Parent bloc id")),
			mcp.WithString("product_name", mcp.Required(), mcp.Description("Product or activity name")),
			mcp.WithString("id", mcp.Description("Client id (generated when empty)")),
			mcp.WithString("method", mcp.Description("Application method")),
			mcp.WithString("planned_start_date", mcp.Description("Planned start date")),
			mcp.WithString("planned_end_date", mcp.Description("Planned end date")),
			mcp.WithNumber("planned_rate", mcp.Description("Planned rate per hectare")),
			mcp.WithString("est_product_cost", mcp.Description("Estimated product cost")),
			mcp.WithString("est_resource_cost", mcp.Description("Estimated resource cost")),
			mcp.WithString("act_product_cost", mcp.Description("Actual product cost")),
			mcp.WithString("act_resource_cost", mcp.Description("Actual resource cost")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			blocID, err := req.RequireString("bloc_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			productName, err := req.RequireString("product_name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			costs, err := parseCosts(req, "est_product_cost", "est_resource_cost", "act_product_cost", "act_resource_cost")
			if err != nil {
				return toolResultFromError(err), nil
			}
			res, err := svc.AddOperation(ctx, common.AddOperationRequest{
				BlocID:           blocID,
				ID:               req.GetString("id", ""),
				ProductName:      productName,
				Method:           req.GetString("method", ""),
				PlannedStartDate: req.GetString("planned_start_date", ""),
				PlannedEndDate:   req.GetString("planned_end_date", ""),
				PlannedRate:      req.GetFloat("planned_rate", 0),
				EstProductCost:   costs[0],
				EstResourceCost:  costs[1],
				ActProductCost:   costs[2],
				ActResourceCost:  costs[3],
			})
			return mutationResult("add_operation", res, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"canetrack.add_work_package",
			mcp.WithDescription("Record a work package under an operation. Date defaults to today and rate to the operation's planned rate."),
			mcp.WithString("bloc_id", mcp.Required(), mcp.Description("Bloc id")),
			mcp.WithString("operation_id", mcp.Required(), mcp.Description("Parent operation id")),
			mcp.WithNumber("area", mcp.Required(), mcp.Description("Area worked in hectares")),
			mcp.WithString("id", mcp.Description("Client id (generated when empty)")),
			mcp.WithString("date", mcp.Description("Work date")),
			mcp.WithNumber("rate", mcp.Description("Applied rate")),
			mcp.WithNumber("quantity", mcp.Description("Quantity used")),
			mcp.WithString("status", mcp.Description("Initial status"), mcp.Enum("not-started", "in-progress", "complete")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			blocID, err := req.RequireString("bloc_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			opID, err := req.RequireString("operation_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			area, err := req.RequireFloat("area")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			in := common.AddWorkPackageRequest{
				BlocID:      blocID,
				OperationID: opID,
				ID:          req.GetString("id", ""),
				Date:        req.GetString("date", ""),
				Area:        area,
				Quantity:    req.GetFloat("quantity", 0),
				Status:      req.GetString("status", ""),
			}
			if _, ok := req.GetArguments()["rate"]; ok {
				rate := req.GetFloat("rate", 0)
				in.Rate = &rate
			}
			res, err := svc.AddWorkPackage(ctx, in)
			return mutationResult("add_work_package", res, err)
		},
	)
}

// registerMutationTools registers update, advance, and delete tools.
func registerMutationTools(srv *mcpserver.MCPServer, svc common.WorkspaceService) {
	srv.AddTool(
		mcp.NewTool(
			"canetrack.update_field",
			mcp.WithDescription("Set one field of a bloc, operation, or work package from its text form."),
			mcp.WithString("level", mcp.Required(), mcp.Description("Node level"), mcp.Enum(common.LevelBloc, common.LevelOperation, common.LevelWorkPackage)),
			mcp.WithString("bloc_id", mcp.Required(), mcp.Description("Bloc id")),
			mcp.WithString("operation_id", mcp.Description("Operation id for operation and work_package levels")),
			mcp.WithString("work_package_id", mcp.Description("Work package id for the work_package level")),
			mcp.WithString("field", mcp.Required(), mcp.Description("Field name, e.g. area_hectares, planned_rate, status")),
			mcp.WithString("value", mcp.Required(), mcp.Description("New value as text")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			level, err := req.RequireString("level")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			blocID, err := req.RequireString("bloc_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			field, err := req.RequireString("field")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			value, err := req.RequireString("value")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res, err := svc.UpdateField(ctx, common.UpdateFieldRequest{
				Level: level,
				NodeRef: common.NodeRef{
					BlocID:        blocID,
					OperationID:   req.GetString("operation_id", ""),
					WorkPackageID: req.GetString("work_package_id", ""),
				},
				Field: field,
				Value: value,
			})
			return mutationResult("update_field", res, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"canetrack.advance_work_package",
			mcp.WithDescription("Cycle a work package status: not-started, in-progress, complete, then back to not-started."),
			mcp.WithString("bloc_id", mcp.Required(), mcp.Description("Bloc id")),
			mcp.WithString("operation_id", mcp.Required(), mcp.Description("Operation id")),
			mcp.WithString("work_package_id", mcp.Required(), mcp.Description("Work package id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ref, err := requireRef(req)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res, err := svc.AdvanceWorkPackage(ctx, ref)
			return mutationResult("advance_work_package", res, err)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"canetrack.delete_bloc",
			mcp.WithDescription("Delete a bloc and everything under it. The confirmation must be the exact phrase."),
			mcp.WithString("bloc_id", mcp.Required(), mcp.Description("Bloc id")),
			mcp.WithString("confirmation", mcp.Required(), mcp.Description("Exact confirmation phrase, case-sensitive")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			blocID, err := req.RequireString("bloc_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			confirmation, err := req.RequireString("confirmation")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			res, err := svc.DeleteBloc(ctx, blocID, confirmation)
			return mutationResult("delete_bloc", res, err)
		},
	)
}

// requireRef reads the bloc, operation, and work package ids.
func requireRef(req mcp.CallToolRequest) (common.NodeRef, error) {
	var (
		ref common.NodeRef
		err error
	)
	if ref.BlocID, err = req.RequireString("bloc_id"); err != nil {
		return common.NodeRef{}, err
	}
	if ref.OperationID, err = req.RequireString("operation_id"); err != nil {
		return common.NodeRef{}, err
	}
	if ref.WorkPackageID, err = req.RequireString("work_package_id"); err != nil {
		return common.NodeRef{}, err
	}
	return ref, nil
}

// parseCosts reads optional decimal string arguments in order.
func parseCosts(req mcp.CallToolRequest, names ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(names))
	for i, name := range names {
		raw := strings.TrimSpace(req.GetString(name, ""))
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s %q is not a decimal: %w", name, raw, common.ErrInvalidRequest)
		}
		out[i] = d
	}
	return out, nil
}

// mutationResult encodes a mutation view or maps its error.
func mutationResult(tool string, res common.MutationView, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return toolResultFromError(err), nil
	}
	return jsonResult(tool, res)
}

// jsonResult encodes one structured tool result.
func jsonResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrVersionConflict):
		return mcp.NewToolResultError("version_conflict: " + err.Error())
	case errors.Is(err, common.ErrPersistenceFailed):
		return mcp.NewToolResultError("persistence_failed: " + err.Error())
	case errors.Is(err, common.ErrConfirmationRequired):
		return mcp.NewToolResultError("confirmation_required: " + err.Error())
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
