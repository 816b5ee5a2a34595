//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/registry-ingest/internal/model"
)

func TestFormatQuarantineList_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatQuarantineList(&buf, nil)

	output := buf.String()
	assert.Contains(t, output, "REASON")
	assert.Contains(t, output, "NEXT ACTION")
}

func TestFormatQuarantineList_SingleRecord(t *testing.T) {
	recs := []model.QuarantineRecord{
		{
			ID:         "9d41e7aa-0000-0000-0000-000000000000",
			Reason:     model.ReasonParseError,
			Status:     model.QuarantineOpen,
			Severity:   model.SeverityWarning,
			SourceRef:  "companies-00217.xml",
			NextAction: model.ActionReviewQuarantine,
			CreatedAt:  time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatQuarantineList(&buf, recs)

	output := buf.String()
	assert.Contains(t, output, "9d41e7aa")
	assert.Contains(t, output, "parse_error")
	assert.Contains(t, output, "open")
	assert.Contains(t, output, "companies-00217.xml")
	assert.Contains(t, output, "2025-03-01 14:05")
}

func TestFormatQuarantineList_LongSourceRef(t *testing.T) {
	recs := []model.QuarantineRecord{
		{
			ID:        "11112222-0000-0000-0000-000000000000",
			Reason:    model.ReasonSchemaNotFound,
			Status:    model.QuarantineOpen,
			SourceRef: "a-very-long-drop-directory-path/with-nested-segments/companies-batch-00912.xml",
			CreatedAt: time.Date(2025, 3, 1, 14, 5, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	formatQuarantineList(&buf, recs)

	output := buf.String()
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "companies-batch-00912.xml")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly-10", truncate("exactly-10", 10))
	assert.Equal(t, "this is...", truncate("this is far too long", 10))
}
