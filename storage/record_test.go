package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() *Record {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		ID:          "k1",
		WorkspaceID: "ws1",
		Name:        "Stripe",
		Environment: "production",
		Tags:        []string{"billing"},
		Key:         "AQI-bundle",
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

func TestRecord_EncodeDecode(t *testing.T) {
	rec := validRecord()
	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Record)
	}{
		{"MissingID", func(r *Record) { r.ID = "" }},
		{"MissingWorkspace", func(r *Record) { r.WorkspaceID = "" }},
		{"MissingName", func(r *Record) { r.Name = "" }},
		{"MissingKey", func(r *Record) { r.Key = "" }},
		{"ZeroVersion", func(r *Record) { r.Version = 0 }},
		{"ZeroCreatedAt", func(r *Record) { r.CreatedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)
			assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)
			_, err := EncodeRecord(rec)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}

	var nilRec *Record
	assert.ErrorIs(t, nilRec.Validate(), ErrInvalidRecord)
}

func TestDecodeRecord_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"NotJSON", `not json`},
		{"WrongType", `{"id": 7}`},
		{"UnknownField", `{"id":"k1","workspace_id":"ws1","name":"n","key":"b","version":1,"created_at":"2026-03-01T12:00:00Z","plaintext":"leak"}`},
		{"MissingKey", `{"id":"k1","workspace_id":"ws1","name":"n","version":1,"created_at":"2026-03-01T12:00:00Z"}`},
		{"TrailingData", `{"id":"k1","workspace_id":"ws1","name":"n","key":"b","version":1,"created_at":"2026-03-01T12:00:00Z"} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	rec := validRecord()
	cp := rec.Clone()
	cp.Tags[0] = "changed"
	assert.Equal(t, "billing", rec.Tags[0])

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
}
