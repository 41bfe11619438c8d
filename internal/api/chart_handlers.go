package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kchartio/kchart/internal/cache"
	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/service"
)

func (s *Server) registerChartRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listCharts",
		Method:      http.MethodGet,
		Path:        "/api/v1/charts",
		Summary:     "List charts",
		Description: "Returns every vendor chart with its aggregate weight, reference chart first",
		Tags:        []string{"Charts"},
	}, s.handleListCharts)

	huma.Register(s.api, huma.Operation{
		OperationID: "getAggregateChart",
		Method:      http.MethodGet,
		Path:        "/api/v1/aggregate",
		Summary:     "Get aggregate chart",
		Description: "Returns the weighted cross-service chart for an hour, or the latest hour when none is given",
		Tags:        []string{"Charts"},
	}, s.handleGetAggregate)

	huma.Register(s.api, huma.Operation{
		OperationID: "getServiceChart",
		Method:      http.MethodGet,
		Path:        "/api/v1/charts/{slug}",
		Summary:     "Get service chart",
		Description: "Returns one vendor's chart for an hour, or its latest hour when none is given",
		Tags:        []string{"Charts"},
	}, s.handleGetServiceChart)
}

// === DTOs ===

// HourQuery is embedded by inputs that select a chart hour.
type HourQuery struct {
	Hour string `query:"hour" pattern:"^[0-9]{10}$" doc:"Hour as YYYYMMDDHH in Asia/Seoul time. Omit for the latest hour."`
}

// ListChartsOutput wraps the chart list for Huma.
type ListChartsOutput struct {
	Body ListChartsResponse
}

// ListChartsResponse contains the registered charts.
type ListChartsResponse struct {
	Charts []*domain.Chart `json:"charts" doc:"Registered charts"`
}

// GetAggregateInput contains parameters for the aggregate chart.
type GetAggregateInput struct {
	HourQuery
}

// AggregateOutput wraps the aggregate snapshot for Huma.
type AggregateOutput struct {
	Body *cache.Snapshot
}

// GetServiceChartInput contains parameters for one vendor chart.
type GetServiceChartInput struct {
	Slug string `path:"slug" maxLength:"32" doc:"Chart slug"`
	HourQuery
}

// ServiceChartOutput wraps a vendor chart for Huma.
type ServiceChartOutput struct {
	Body *service.ServiceChartView
}

// === Handlers ===

func (s *Server) handleListCharts(ctx context.Context, _ *struct{}) (*ListChartsOutput, error) {
	charts, err := s.store.ListCharts(ctx)
	if err != nil {
		return nil, err
	}
	if charts == nil {
		charts = []*domain.Chart{}
	}
	return &ListChartsOutput{Body: ListChartsResponse{Charts: charts}}, nil
}

func (s *Server) handleGetAggregate(ctx context.Context, input *GetAggregateInput) (*AggregateOutput, error) {
	hour, err := input.parse()
	if err != nil {
		return nil, err
	}

	var snap *cache.Snapshot
	if hour == nil {
		snap, err = s.services.Aggregates.Latest(ctx)
	} else {
		snap, err = s.services.Aggregates.Snapshot(ctx, *hour)
	}
	if err != nil {
		return nil, err
	}
	return &AggregateOutput{Body: snap}, nil
}

func (s *Server) handleGetServiceChart(ctx context.Context, input *GetServiceChartInput) (*ServiceChartOutput, error) {
	hour, err := input.parse()
	if err != nil {
		return nil, err
	}

	view, err := s.services.Charts.ServiceChart(ctx, input.Slug, hour)
	if err != nil {
		return nil, err
	}
	return &ServiceChartOutput{Body: view}, nil
}

// parse returns nil when no hour was requested.
func (q HourQuery) parse() (*time.Time, error) {
	if q.Hour == "" {
		return nil, nil
	}
	hour, err := domain.ParseHourKey(q.Hour)
	if err != nil {
		return nil, domainerrors.Validationf("invalid hour %q, expected YYYYMMDDHH", q.Hour)
	}
	return &hour, nil
}
