package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/levtrade/corebot/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the time-ranged query methods it actually
// calls, not the full domain store interfaces. The Postgres stores satisfy
// these implicitly through their ListBefore methods.
// ---------------------------------------------------------------------------

// OrderArchiveStore provides read access to settled orders for archival.
type OrderArchiveStore interface {
	// ListBefore returns all terminal orders last updated strictly before
	// the given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// StatusEventArchiveStore provides read access to order status history for
// archival.
type StatusEventArchiveStore interface {
	// ListStatusEventsBefore returns all status events that occurred
	// strictly before the given cutoff time.
	ListStatusEventsBefore(ctx context.Context, before time.Time) ([]domain.OrderStatusEvent, error)
}

// RiskArchiveStore provides read access to regime history for archival.
type RiskArchiveStore interface {
	// ListBefore returns all regime records recorded strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.RiskState, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	orders OrderArchiveStore
	events StatusEventArchiveStore
	risk   RiskArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	orders OrderArchiveStore,
	events StatusEventArchiveStore,
	risk RiskArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		orders: orders,
		events: events,
		risk:   risk,
		audit:  audit,
	}
}

// ArchiveOrders queries all terminal orders before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at archive/orders/YYYY-MM.jsonl.
// The archival event is recorded in the audit log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	count := int64(len(orders))

	if err := a.audit.Log(ctx, "archive.orders", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive orders audit log: %w", err)
	}

	return count, nil
}

// ArchiveStatusEvents queries all order status events before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/status_events/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveStatusEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListStatusEventsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive status events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive status events marshal: %w", err)
	}

	path := archivePath("status_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive status events upload: %w", err)
	}

	count := int64(len(events))

	if err := a.audit.Log(ctx, "archive.status_events", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive status events audit log: %w", err)
	}

	return count, nil
}

// ArchiveRiskHistory queries all regime records before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/risk_history/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveRiskHistory(ctx context.Context, before time.Time) (int64, error) {
	states, err := a.risk.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive risk history query: %w", err)
	}
	if len(states) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(states)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive risk history marshal: %w", err)
	}

	path := archivePath("risk_history", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive risk history upload: %w", err)
	}

	count := int64(len(states))

	if err := a.audit.Log(ctx, "archive.risk_history", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive risk history audit log: %w", err)
	}

	return count, nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/orders/2025-01.jsonl
//	archive/status_events/2025-01.jsonl
//	archive/risk_history/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
