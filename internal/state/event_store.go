// ./internal/state/event_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/basketlabs/bvm/internal/types"
)

// EventRecorder persists engine records to the database. Recording is
// best-effort: failures are logged, never propagated, so a persistence
// outage cannot abort a vault operation.
type EventRecorder struct{}

// NewEventRecorder returns a recorder backed by the global database pool.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Record persists one emitted record.
func (r *EventRecorder) Record(eventType types.EventType, traceID string, payload any) {
	if DB == nil {
		log.Error().Str("event_type", string(eventType)).Msg("Cannot record event: database not initialized")
		return
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to marshal event payload")
		return
	}

	query := `
		INSERT INTO vault_events (event_type, trace_id, payload)
		VALUES ($1, $2, $3);
	`
	if _, err := DB.Exec(query, string(eventType), traceID, payloadJSON); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to record event")
		return
	}

	log.Debug().Str("event_type", string(eventType)).Str("trace_id", traceID).Msg("Event recorded")
}

// SaveReport persists a completed rebalance report under the next persistent
// rebalance number.
func (r *EventRecorder) SaveReport(report types.RebalanceReport) {
	if DB == nil {
		log.Error().Msg("Cannot save rebalance report: database not initialized")
		return
	}

	rebalanceNumber, err := IncrementRebalanceNumber()
	if err != nil {
		log.Error().Err(err).Msg("Failed to increment rebalance number, using zero")
		rebalanceNumber = 0
	}

	plannedJSON, err := json.Marshal(report.PlannedTrades)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal planned trades")
		return
	}
	receiptsJSON, err := json.Marshal(report.Receipts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal swap receipts")
		return
	}

	query := `
		INSERT INTO rebalance_reports (
			rebalance_number, trace_id, report_timestamp, total_usd,
			planned_trades, receipts, skipped_pairs
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING report_id;
	`

	var reportID int64
	err = DB.QueryRow(
		query,
		rebalanceNumber, report.TraceID, report.Timestamp, report.TotalUSD.String(),
		plannedJSON, receiptsJSON, report.SkippedPairs,
	).Scan(&reportID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save rebalance report")
		return
	}

	log.Info().
		Int64("report_id", reportID).
		Int("rebalance_number", rebalanceNumber).
		Str("trace_id", report.TraceID).
		Msg("Rebalance report saved to database")
}

// ListEvents returns the most recent events, newest first.
func ListEvents(limit int) ([]types.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT event_id, event_type, event_timestamp, trace_id, payload
		FROM vault_events
		ORDER BY event_id DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]types.Event, 0, limit)
	for rows.Next() {
		var e types.Event
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.Timestamp, &e.TraceID, (*[]byte)(&e.Payload)); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Type = types.EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListReports returns the most recent rebalance reports as raw JSON rows,
// newest first.
func ListReports(limit int) ([]map[string]any, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT report_id, rebalance_number, trace_id, report_timestamp,
		       total_usd, planned_trades, receipts, skipped_pairs
		FROM rebalance_reports
		ORDER BY report_id DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance reports: %w", err)
	}
	defer rows.Close()

	reports := make([]map[string]any, 0, limit)
	for rows.Next() {
		var (
			reportID        int64
			rebalanceNumber int
			traceID         string
			timestamp       string
			totalUSD        string
			plannedJSON     []byte
			receiptsJSON    []byte
			skippedPairs    int
		)
		if err := rows.Scan(&reportID, &rebalanceNumber, &traceID, &timestamp,
			&totalUSD, &plannedJSON, &receiptsJSON, &skippedPairs); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}

		reports = append(reports, map[string]any{
			"report_id":        reportID,
			"rebalance_number": rebalanceNumber,
			"trace_id":         traceID,
			"timestamp":        timestamp,
			"total_usd":        totalUSD,
			"planned_trades":   json.RawMessage(plannedJSON),
			"receipts":         json.RawMessage(receiptsJSON),
			"skipped_pairs":    skippedPairs,
		})
	}
	return reports, rows.Err()
}
