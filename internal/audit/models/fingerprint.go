package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// canonical fixes the key order of the hashed document. Every field is a
// string so absent values serialize as "" and never as null.
type canonical struct {
	UserID       string `json:"userId"`
	EventType    string `json:"eventType"`
	FieldChanged string `json:"fieldChanged"`
	OldValue     string `json:"oldValue"`
	NewValue     string `json:"newValue"`
	Role         string `json:"role"`
	Metadata     string `json:"metadata"`
	Timestamp    string `json:"timestamp"`
}

// CanonicalTime normalizes t to the precision and zone that is hashed.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// CanonicalBytes returns the exact bytes that Fingerprint hashes.
func CanonicalBytes(in Input) ([]byte, error) {
	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	return encode(canonical{
		UserID:       in.UserID,
		EventType:    string(in.EventType),
		FieldChanged: in.FieldChanged,
		OldValue:     in.OldValue,
		NewValue:     in.NewValue,
		Role:         in.Role,
		Metadata:     meta,
		Timestamp:    CanonicalTime(in.Timestamp).Format(TimestampLayout),
	})
}

// Fingerprint returns the lowercase hex SHA-256 of the canonical form of in.
func Fingerprint(in Input) (string, error) {
	b, err := CanonicalBytes(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// encodeMetadata renders metadata as compact JSON. encoding/json sorts map
// keys at every depth, which makes the output independent of insertion order.
func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := encode(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
