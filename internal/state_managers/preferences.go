package state_managers

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/pkg/file"
)

// PreferenceStore is durable scalar key-value storage with per-call defaults.
type PreferenceStore interface {
	GetString(key, def string) string
	GetInt64(key string, def int64) int64
	GetBool(key string, def bool) bool
	Set(key string, value any) error
	Increment(key string) (int64, error)
	Remove(key string) error
	Contains(key string) bool
}

// PreferenceStateManager persists preferences as a flat JSON object on disk.
// Values are cached in memory after the first load.
type PreferenceStateManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewPreferenceStateManager loads the preference file, starting empty when it does not exist.
func NewPreferenceStateManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) (*PreferenceStateManager, error) {
	sm := &PreferenceStateManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
		values:     make(map[string]json.RawMessage),
	}

	err := fileClient.ReadJsonFile(filePath, &sm.values)
	if err != nil {
		if os.IsNotExist(err) {
			sm.values = make(map[string]json.RawMessage)
			return sm, nil
		}
		logger.Error().Err(err).Str("file", filePath).Msg("Failed to read preference file")
		return nil, err
	}
	if sm.values == nil {
		sm.values = make(map[string]json.RawMessage)
	}

	return sm, nil
}

// GetString returns the string stored under key, or def.
func (sm *PreferenceStateManager) GetString(key, def string) string {
	var v string
	if !sm.get(key, &v) {
		return def
	}
	return v
}

// GetInt64 returns the integer stored under key, or def.
func (sm *PreferenceStateManager) GetInt64(key string, def int64) int64 {
	var v int64
	if !sm.get(key, &v) {
		return def
	}
	return v
}

// GetBool returns the boolean stored under key, or def.
func (sm *PreferenceStateManager) GetBool(key string, def bool) bool {
	var v bool
	if !sm.get(key, &v) {
		return def
	}
	return v
}

// Contains reports whether a value is stored under key.
func (sm *PreferenceStateManager) Contains(key string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, ok := sm.values[key]
	return ok
}

// Set stores value under key and flushes the file.
func (sm *PreferenceStateManager) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.values[key] = raw
	return sm.saveLocked()
}

// Increment adds one to the integer stored under key and returns the new value.
func (sm *PreferenceStateManager) Increment(key string) (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var current int64
	if raw, ok := sm.values[key]; ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			sm.logger.Warn().Err(err).Str("key", key).Msg("Resetting non-numeric preference")
			current = 0
		}
	}
	current++

	raw, _ := json.Marshal(current)
	sm.values[key] = raw
	return current, sm.saveLocked()
}

// Remove deletes key and flushes the file.
func (sm *PreferenceStateManager) Remove(key string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.values[key]; !ok {
		return nil
	}
	delete(sm.values, key)
	return sm.saveLocked()
}

func (sm *PreferenceStateManager) get(key string, v any) bool {
	sm.mu.RLock()
	raw, ok := sm.values[key]
	sm.mu.RUnlock()
	if !ok {
		return false
	}

	if err := json.Unmarshal(raw, v); err != nil {
		sm.logger.Warn().Err(err).Str("key", key).Msg("Preference has unexpected type, using default")
		return false
	}
	return true
}

func (sm *PreferenceStateManager) saveLocked() error {
	if err := sm.fileClient.WriteJsonFile(sm.filePath, sm.values); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to write preference file")
		return err
	}
	return nil
}
