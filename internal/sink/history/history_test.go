package history

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulseone-io/collector/internal/model"
)

func TestSink_AppendAndFlushOnClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tv := model.TimestampedValue{
		PointID: "p1", Value: model.DataValue{Kind: model.KindFloat64, Float: 12.5},
		Quality: model.QualityGood, SourceTimestamp: time.Now(),
	}
	if err := s.AppendHistory(context.Background(), "dev-1", tv); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("expected one line in history file")
	}
	var rec record
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.DeviceID != "dev-1" || rec.PointID != "p1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if f, _ := rec.Value.Float64(); f != 12.5 {
		t.Fatalf("expected value 12.5, got %v", f)
	}
	if sc.Scan() {
		t.Fatal("expected exactly one line")
	}
}

func TestSink_AppendsAcrossMultipleWrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	s, err := Open(path, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tv := model.TimestampedValue{PointID: "p1", Value: model.DataValue{Kind: model.KindInt32, Int: int64(i)}, Quality: model.QualityGood}
		if err := s.AppendHistory(ctx, "dev-1", tv); err != nil {
			t.Fatalf("AppendHistory %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	count := 0
	for sc.Scan() {
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 lines, got %d", count)
	}
}
