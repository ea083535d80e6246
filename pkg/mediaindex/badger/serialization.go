package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/scopedfs/pkg/mediaindex"
)

// Rows are JSON encoded. They are small and the format stays readable
// when inspecting the database by hand.

func encodeRecord(rec mediaindex.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode media record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (mediaindex.Record, error) {
	var rec mediaindex.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return mediaindex.Record{}, fmt.Errorf("failed to decode media record: %w", err)
	}
	return rec, nil
}
