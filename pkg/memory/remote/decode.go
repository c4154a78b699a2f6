package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
)

// decodeResults normalises the three result framings the memory API is known
// to emit into a single []memory.SearchResult:
//
//  1. an object with a "results" array: {"results": [{...}, ...]}
//  2. a bare array of record objects:   [{...}, ...]
//  3. a bare array of strings:          ["memory one", "memory two"]
//
// Each framing is tried in turn; an input matching none of them is an error,
// never a silent empty result.
func decodeResults(raw json.RawMessage) ([]memory.SearchResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []memory.SearchResult{}, nil
	}

	if results, ok := decodeWrappedObjects(raw); ok {
		return results, nil
	}
	if results, ok := decodeBareObjects(raw); ok {
		return results, nil
	}
	if results, ok := decodeBareStrings(raw); ok {
		return results, nil
	}
	return nil, fmt.Errorf("unrecognised result shape: %s", snippet(raw))
}

// wireRecord is a single memory record as the API serialises it.
type wireRecord struct {
	ID        string            `json:"id"`
	Memory    string            `json:"memory"`
	Text      string            `json:"text"`
	Score     float64           `json:"score"`
	CreatedAt string            `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

func decodeWrappedObjects(raw json.RawMessage) ([]memory.SearchResult, bool) {
	var wrapper struct {
		Results []wireRecord `json:"results"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, false
	}
	// An object without a "results" key decodes cleanly to nil; only treat
	// the shape as matched when the key was actually present.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}
	if _, ok := probe["results"]; !ok {
		return nil, false
	}
	return convertRecords(wrapper.Results), true
}

func decodeBareObjects(raw json.RawMessage) ([]memory.SearchResult, bool) {
	var records []wireRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false
	}
	return convertRecords(records), true
}

func decodeBareStrings(raw json.RawMessage) ([]memory.SearchResult, bool) {
	var texts []string
	if err := json.Unmarshal(raw, &texts); err != nil {
		return nil, false
	}
	results := make([]memory.SearchResult, len(texts))
	for i, t := range texts {
		results[i] = memory.SearchResult{
			Record:   memory.MemoryRecord{Text: t},
			Unscored: true,
		}
	}
	return results, true
}

func convertRecords(records []wireRecord) []memory.SearchResult {
	results := make([]memory.SearchResult, len(records))
	for i, w := range records {
		text := w.Memory
		if text == "" {
			text = w.Text
		}
		r := memory.SearchResult{
			Record: memory.MemoryRecord{ID: w.ID, Text: text},
			Score:  w.Score,
		}
		if w.Metadata != nil {
			r.Record.Metadata = memory.RecordMetadata{
				Sender:      memory.Sender(w.Metadata["sender"]),
				UserID:      w.Metadata["user_id"],
				CharacterID: w.Metadata["character_id"],
				UserName:    w.Metadata["user_name"],
				MessageType: w.Metadata["message_type"],
			}
			if ts, err := time.Parse(time.RFC3339, w.Metadata["timestamp"]); err == nil {
				r.Record.Metadata.Timestamp = ts.UTC()
			}
		}
		results[i] = r
	}
	return results
}

func snippet(raw json.RawMessage) string {
	const max = 120
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
