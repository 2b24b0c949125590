package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

type recordedPut struct {
	path        string
	contentType string
	data        []byte
	streamed    bool
}

type memBlobWriter struct {
	puts []recordedPut
}

var _ domain.BlobWriter = (*memBlobWriter)(nil)

func (m *memBlobWriter) Put(_ context.Context, path string, data []byte, contentType string) error {
	m.puts = append(m.puts, recordedPut{path: path, contentType: contentType, data: data})
	return nil
}

func (m *memBlobWriter) PutStream(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.puts = append(m.puts, recordedPut{path: path, contentType: contentType, data: b, streamed: true})
	return nil
}

func TestArchiveScoresStreamsJSONL(t *testing.T) {
	w := &memBlobWriter{}
	a := NewArchiver(w)

	scores := []domain.CompositeScore{
		{Wallet: "0xaa", Composite: 81.5, RunID: "run-7"},
		{Wallet: "0xbb", Composite: 42, RunID: "run-7"},
	}
	if err := a.ArchiveScores(context.Background(), "run-7", scores); err != nil {
		t.Fatalf("ArchiveScores: %v", err)
	}

	if len(w.puts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(w.puts))
	}
	p := w.puts[0]
	if p.path != "runs/run-7/scores.jsonl" {
		t.Errorf("path = %q, want runs/run-7/scores.jsonl", p.path)
	}
	if !p.streamed {
		t.Error("score snapshot did not go through the streaming upload path")
	}
	if p.contentType != "application/x-ndjson" {
		t.Errorf("content type = %q", p.contentType)
	}
	lines := strings.Split(strings.TrimRight(string(p.data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("jsonl lines = %d, want 2", len(lines))
	}
	var first domain.CompositeScore
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first.Wallet != "0xaa" {
		t.Errorf("first line wallet = %q, want 0xaa", first.Wallet)
	}
}

func TestArchiveScoresEmptySkipsUpload(t *testing.T) {
	w := &memBlobWriter{}
	if err := NewArchiver(w).ArchiveScores(context.Background(), "run-7", nil); err != nil {
		t.Fatalf("ArchiveScores: %v", err)
	}
	if len(w.puts) != 0 {
		t.Errorf("uploads = %d, want 0 for an empty run", len(w.puts))
	}
}

func TestArchiveWatchlistPath(t *testing.T) {
	w := &memBlobWriter{}
	entries := []domain.WatchlistEntry{{Address: "0xaa", Qualifies: true}}
	if err := NewArchiver(w).ArchiveWatchlist(context.Background(), "run-7", entries); err != nil {
		t.Fatalf("ArchiveWatchlist: %v", err)
	}
	if len(w.puts) != 1 || w.puts[0].path != "runs/run-7/watchlist.jsonl" {
		t.Fatalf("puts = %+v, want one at runs/run-7/watchlist.jsonl", w.puts)
	}
}

func TestArchiveSummaryStampsArchivedAt(t *testing.T) {
	w := &memBlobWriter{}
	sum := domain.RunSummary{RunID: "run-7", Mode: "refresh", StartedAt: time.Now().UTC()}
	if err := NewArchiver(w).ArchiveSummary(context.Background(), sum); err != nil {
		t.Fatalf("ArchiveSummary: %v", err)
	}

	if len(w.puts) != 1 || w.puts[0].path != "runs/run-7/summary.json" {
		t.Fatalf("puts = %+v, want one at runs/run-7/summary.json", w.puts)
	}
	var decoded map[string]any
	if err := json.Unmarshal(w.puts[0].data, &decoded); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if decoded["RunID"] != "run-7" {
		t.Errorf("summary run id = %v, want run-7", decoded["RunID"])
	}
	stamp, ok := decoded["archived_at"].(string)
	if !ok {
		t.Fatal("summary missing archived_at")
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("archived_at %q not RFC3339: %v", stamp, err)
	}
}
