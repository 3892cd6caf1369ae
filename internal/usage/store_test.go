package usage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "usage_test.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []Record{
		{Timestamp: now, RequestID: "r1", Channel: "#terrarium", Model: "qwen", Provider: "openai", InputTokens: 1000, OutputTokens: 200},
		{Timestamp: now, RequestID: "r1", Channel: "#terrarium", Model: "qwen", Provider: "openai", InputTokens: 1200, OutputTokens: 50, Purpose: PurposeCompaction},
		{Timestamp: now, RequestID: "r2", Channel: "#other", Model: "qwen", Provider: "openai", InputTokens: 10, OutputTokens: 5},
		{Timestamp: now.Add(-48 * time.Hour), RequestID: "old", Channel: "#terrarium", Model: "qwen", Provider: "openai", InputTokens: 9999, OutputTokens: 9999},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Calls != 3 || sum.TotalInputTokens != 2210 || sum.TotalOutputTokens != 255 || sum.Total() != 2465 {
		t.Errorf("summary = %+v", sum)
	}

	byChannel, err := s.SummaryByChannel(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if byChannel["#terrarium"].Calls != 2 || byChannel["#other"].TotalInputTokens != 10 {
		t.Errorf("by channel = %+v", byChannel)
	}

	byPurpose, err := s.SummaryByPurpose(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if byPurpose[PurposeReply].Calls != 2 || byPurpose[PurposeCompaction].Calls != 1 {
		t.Errorf("by purpose = %+v", byPurpose)
	}
}

func TestToday(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 15, 0, 0, 0, time.Local)
	s.now = func() time.Time { return fixed }

	s.Record(ctx, Record{RequestID: "a", Model: "m", Provider: "p", InputTokens: 5, OutputTokens: 5})
	s.Record(ctx, Record{Timestamp: fixed.Add(-16 * time.Hour), RequestID: "b", Model: "m", Provider: "p", InputTokens: 100})

	sum, err := s.Today(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Calls != 1 || sum.Total() != 10 {
		t.Errorf("today = %+v", sum)
	}
}

func TestSummaryEmpty(t *testing.T) {
	s := testStore(t)
	sum, err := s.Summary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum != (Summary{}) {
		t.Errorf("summary = %+v, want zero", sum)
	}
}
