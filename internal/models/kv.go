package models

import (
	"strings"
	"time"
)

// KV is a persisted application flag or setting.
type KV struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (kv *KV) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(kv.Key) == "" {
		validation.AddMessage("key", "key is required")
	}
	return validation.Err()
}
