//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/registry-ingest/internal/monitoring"
)

func TestFormatMetrics(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:            10,
		RunsSucceeded:        7,
		RunsWarning:          1,
		RunsFailed:           2,
		RunFailRate:          0.2,
		DocumentsTotal:       120,
		DocumentsProcessed:   110,
		DocumentsQuarantined: 10,
		QuarantineRate:       0.0833,
		NodesUpserted:        300,
		RelationshipsUpserted: 90,
		ImmutableConflicts:   1,
		QuarantineDepth:      12,
		QuarantineByReason: map[string]int{
			"parse_error":      9,
			"schema_not_found": 3,
		},
		LookbackHours: 24,
		CollectedAt:   time.Now().UTC(),
	}

	var buf bytes.Buffer
	formatMetrics(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "last 24h")
	assert.Contains(t, output, "20.0%")
	assert.Contains(t, output, "8.3%")
	assert.Contains(t, output, "parse_error:")
	assert.Contains(t, output, "schema_not_found:")
	assert.Contains(t, output, "300")
}

func TestFormatMetrics_Empty(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{LookbackHours: 24}

	var buf bytes.Buffer
	formatMetrics(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "Runs:")
	assert.Contains(t, output, "0.0%")
}
