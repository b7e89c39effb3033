package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// PutVectorBlob stores a vector as a BLOB row, the degrade path used when
// the Vector Store Adapter falls back off HNSW (spec.md §4.3, §7).
func (s *SQLiteRecordStore) PutVectorBlob(ctx context.Context, collection, handle string, vector []float32, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	blob := encodeFloat32Blob(vector)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vector_blobs (collection, handle, record_id, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, handle) DO UPDATE SET vector = excluded.vector, record_id = excluded.record_id
	`, collection, handle, recordID, blob)
	if err != nil {
		return fmt.Errorf("put vector blob: %w", err)
	}
	return nil
}

// GetAllVectorBlobs loads every vector in a collection, for the fallback
// store's linear cosine scan.
func (s *SQLiteRecordStore) GetAllVectorBlobs(ctx context.Context, collection string) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, vector FROM vector_blobs WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("load vector blobs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var handle string
		var blob []byte
		if err := rows.Scan(&handle, &blob); err != nil {
			return nil, err
		}
		out[handle] = decodeFloat32Blob(blob)
	}
	return out, rows.Err()
}

// DeleteVectorBlob removes a single vector row.
func (s *SQLiteRecordStore) DeleteVectorBlob(ctx context.Context, collection, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_blobs WHERE collection = ? AND handle = ?`, collection, handle)
	if err != nil {
		return fmt.Errorf("delete vector blob: %w", err)
	}
	return nil
}

func encodeFloat32Blob(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32Blob(blob []byte) []float32 {
	n := len(blob) / 4
	out := make([]float32, n)
	r := bytes.NewReader(blob)
	for i := 0; i < n; i++ {
		var bits uint32
		_ = binary.Read(r, binary.LittleEndian, &bits)
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// GetState reads a single key from the kv_state table.
func (s *SQLiteRecordStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetState writes a single key to the kv_state table.
func (s *SQLiteRecordStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}
