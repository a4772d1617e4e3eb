package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// storedItem is the envelope written by the serializing tiers (L2, L3).
type storedItem struct {
	Data       []byte    `json:"data"`
	Compressed bool      `json:"compressed"`
	StoredAt   time.Time `json:"stored_at"`
	TTL        int64     `json:"ttl_ms"`
}

func (it storedItem) entry(key string) (Entry, error) {
	data := it.Data
	if it.Compressed {
		var err error
		if data, err = decompress(data); err != nil {
			return Entry{}, fmt.Errorf("failed to decompress cache item %s: %w", key, err)
		}
	}
	return Entry{
		Key:      key,
		Value:    json.RawMessage(data),
		StoredAt: it.StoredAt,
		TTL:      time.Duration(it.TTL) * time.Millisecond,
	}, nil
}

func encodeItem(value interface{}, storedAt time.Time, ttl time.Duration, compressionMin int) ([]byte, error) {
	data, err := marshalValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache value: %w", err)
	}

	item := storedItem{StoredAt: storedAt, TTL: ttl.Milliseconds(), Data: data}
	if compressionMin > 0 && len(data) >= compressionMin {
		if item.Data, err = compress(data); err != nil {
			return nil, fmt.Errorf("failed to compress cache value: %w", err)
		}
		item.Compressed = true
	}
	return json.Marshal(item)
}

func decodeItem(key string, raw []byte) (Entry, error) {
	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal cache item %s: %w", key, err)
	}
	return item.entry(key)
}

// marshalValue keeps values that are already JSON (read back from another
// tier) as they are.
func marshalValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
