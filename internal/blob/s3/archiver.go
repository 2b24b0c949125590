package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// Archiver uploads run artifacts as JSONL snapshots keyed by run ID. The
// primary store keeps only the latest state per wallet; the archive preserves
// each run's full output for later comparison.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveScores uploads a run's composite scores to runs/{runID}/scores.jsonl.
// The score snapshot grows with the wallet population, so it goes through the
// streaming upload path.
func (a *Archiver) ArchiveScores(ctx context.Context, runID string, scores []domain.CompositeScore) error {
	if len(scores) == 0 {
		return nil
	}
	buf, err := marshalJSONL(scores)
	if err != nil {
		return fmt.Errorf("s3blob: archive scores marshal: %w", err)
	}
	path := runPath(runID, "scores")
	if err := a.writer.PutStream(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive scores upload: %w", err)
	}
	return nil
}

// ArchiveWatchlist uploads a discovery run's watchlist to
// runs/{runID}/watchlist.jsonl.
func (a *Archiver) ArchiveWatchlist(ctx context.Context, runID string, entries []domain.WatchlistEntry) error {
	if len(entries) == 0 {
		return nil
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return fmt.Errorf("s3blob: archive watchlist marshal: %w", err)
	}
	path := runPath(runID, "watchlist")
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive watchlist upload: %w", err)
	}
	return nil
}

// ArchiveSummary uploads the run summary to runs/{runID}/summary.json.
func (a *Archiver) ArchiveSummary(ctx context.Context, s domain.RunSummary) error {
	buf, err := json.Marshal(struct {
		domain.RunSummary
		ArchivedAt time.Time `json:"archived_at"`
	}{s, time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("s3blob: archive summary marshal: %w", err)
	}
	path := fmt.Sprintf("runs/%s/summary.json", s.RunID)
	if err := a.writer.Put(ctx, path, buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive summary upload: %w", err)
	}
	return nil
}

func runPath(runID, kind string) string {
	return fmt.Sprintf("runs/%s/%s.jsonl", runID, kind)
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
