package storage

import (
	"testing"
	"time"
)

func TestBuildSLAReportPath(t *testing.T) {
	path, err := BuildObjectPath(ReportSLASweep, PathParams{
		RunID: "01HZXK7J9V",
		Date:  time.Date(2024, 6, 3, 23, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "sla-reports/2024-06-03/01HZXK7J9V.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildReportPathNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	path, err := BuildObjectPath(ReportReconciliation, PathParams{
		RunID: "run1",
		Date:  time.Date(2024, 6, 4, 2, 0, 0, 0, loc),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "reconciliation-reports/2024-06-03/run1.json" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(ReportSLASweep, PathParams{RunID: "../bad", Date: time.Now()})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
	if _, err := BuildObjectPath(ReportSLASweep, PathParams{RunID: "ok"}); err == nil {
		t.Fatalf("expected error for missing date")
	}
	if _, err := BuildObjectPath(ReportKind("unknown"), PathParams{RunID: "ok", Date: time.Now()}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
