package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ReportKind selects the object layout of an exported report.
type ReportKind string

const (
	ReportSLASweep       ReportKind = "sla-sweep"
	ReportReconciliation ReportKind = "reconciliation"
)

// PathParams provide the identifiers used to compose report object keys.
type PathParams struct {
	RunID string
	Date  time.Time
}

// PathBuilder composes the object path for a report kind.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ReportKind]PathBuilder{
		ReportSLASweep:       datedJSONPath("sla-reports"),
		ReportReconciliation: datedJSONPath("reconciliation-reports"),
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a report kind.
func RegisterPathBuilder(kind ReportKind, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, kind)
		return
	}
	pathBuilders[kind] = builder
}

// BuildObjectPath resolves the storage object path for the given report kind.
func BuildObjectPath(kind ReportKind, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[kind]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported report kind %q", kind)
	}
	return builder(params)
}

// datedJSONPath lays reports out as {prefix}/{YYYY-MM-DD}/{runId}.json.
func datedJSONPath(prefix string) PathBuilder {
	return func(params PathParams) (string, error) {
		runID, err := validateSegment("runID", params.RunID)
		if err != nil {
			return "", err
		}
		if params.Date.IsZero() {
			return "", fmt.Errorf("storage: report date is required")
		}
		return fmt.Sprintf("%s/%s/%s.json", prefix, params.Date.UTC().Format(time.DateOnly), runID), nil
	}
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
