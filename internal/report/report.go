// Package report materializes the daily fraud alert mart.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfraud/merlin/internal/domain"
	"github.com/openfraud/merlin/internal/metrics"
	"github.com/openfraud/merlin/internal/rules"
)

var tracer = otel.Tracer("merlin-report")

// Materializer recomputes the alert set for a business day.
//
// Rebuild is idempotent via full delete-then-reinsert; it is not safe
// under concurrent execution for the same date and must be serialized by
// the caller.
type Materializer struct {
	repo   domain.Repository
	engine *rules.Engine
	bus    domain.EventBus

	// now is swappable for tests.
	now func() time.Time
}

// NewMaterializer creates a materializer. The bus may be nil; alert
// events are then not published.
func NewMaterializer(repo domain.Repository, engine *rules.Engine, bus domain.EventBus) *Materializer {
	return &Materializer{
		repo:   repo,
		engine: engine,
		bus:    bus,
		now:    time.Now,
	}
}

// dayRebuilt is the payload published on TopicDayRebuilt.
type dayRebuilt struct {
	RunID        string    `json:"runId"`
	BusinessDate string    `json:"businessDate"`
	AlertCount   int       `json:"alertCount"`
	ReportAt     time.Time `json:"reportAt"`
}

// Rebuild removes every existing alert for the business date and inserts
// the freshly computed set, stamping all rows with one report timestamp.
// Returns the number of alerts produced.
func (m *Materializer) Rebuild(ctx context.Context, day time.Time) (int, error) {
	day = domain.DayOf(day)
	start := m.now()

	ctx, span := tracer.Start(ctx, "report.Rebuild",
		trace.WithAttributes(attribute.String("business_date", day.Format("2006-01-02"))),
	)
	defer span.End()

	alerts, err := m.engine.EvaluateDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("evaluate %s: %w", day.Format("2006-01-02"), err)
	}

	runID := uuid.New().String()
	reportAt := start.UTC()
	for _, a := range alerts {
		a.ID = uuid.New().String()
		a.ReportAt = reportAt
	}

	if err := m.repo.ReplaceDayAlerts(ctx, day, alerts); err != nil {
		return 0, fmt.Errorf("replace alerts for %s: %w", day.Format("2006-01-02"), err)
	}

	m.publish(ctx, runID, day, alerts, reportAt)

	elapsed := m.now().Sub(start)
	metrics.RebuildDuration.Observe(float64(elapsed.Milliseconds()))
	span.SetAttributes(attribute.Int("alert_count", len(alerts)))

	slog.Info("day rebuilt",
		"business_date", day.Format("2006-01-02"),
		"run_id", runID,
		"alerts", len(alerts),
		"duration_ms", elapsed.Milliseconds(),
	)
	return len(alerts), nil
}

// publish emits day and per-alert events. Publication is best-effort:
// the mart is already durable, so bus failures are logged, not returned.
func (m *Materializer) publish(ctx context.Context, runID string, day time.Time, alerts []*domain.FraudAlert, reportAt time.Time) {
	if m.bus == nil {
		return
	}

	payload, err := json.Marshal(dayRebuilt{
		RunID:        runID,
		BusinessDate: day.Format("2006-01-02"),
		AlertCount:   len(alerts),
		ReportAt:     reportAt,
	})
	if err == nil {
		if err := m.bus.Publish(ctx, domain.TopicDayRebuilt, payload); err != nil {
			slog.Warn("failed to publish day rebuilt event", "error", err)
		}
	}

	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := m.bus.Publish(ctx, domain.TopicAlertCreated, data); err != nil {
			slog.Warn("failed to publish alert event", "alert_id", a.ID, "error", err)
			return
		}
	}
}

// FindUnreportedDays returns every date that has transaction facts but no
// alert rows at all. A day evaluated to legitimately zero alerts is
// indistinguishable from a never-evaluated one here and will be picked up
// again; rebuilds are idempotent, so that is wasted work, not corruption.
func (m *Materializer) FindUnreportedDays(ctx context.Context) ([]time.Time, error) {
	factDates, err := m.repo.TransactionDates(ctx)
	if err != nil {
		return nil, err
	}
	alertDates, err := m.repo.AlertDates(ctx)
	if err != nil {
		return nil, err
	}

	reported := make(map[time.Time]bool, len(alertDates))
	for _, d := range alertDates {
		reported[domain.DayOf(d)] = true
	}

	var missing []time.Time
	for _, d := range factDates {
		if !reported[domain.DayOf(d)] {
			missing = append(missing, domain.DayOf(d))
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })
	return missing, nil
}

// RebuildMissing evaluates every unreported day in order. Returns the
// number of days rebuilt.
func (m *Materializer) RebuildMissing(ctx context.Context) (int, error) {
	days, err := m.FindUnreportedDays(ctx)
	if err != nil {
		return 0, err
	}
	for i, day := range days {
		if _, err := m.Rebuild(ctx, day); err != nil {
			return i, err
		}
	}
	return len(days), nil
}
