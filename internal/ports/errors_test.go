package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCacheError tests the functionality of the CacheError error type.
// It verifies that the error message is formatted correctly and contains the expected context.
func TestCacheError(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "cache miss",
			key:       "evalpipe:cache:abc",
			operation: "Get",
			err:       errors.New("key not found"),
			wantMsg:   "cache error: operation=Get, key=evalpipe:cache:abc, err=key not found",
		},
		{
			name:      "cache corruption",
			key:       "evalpipe:cache:def",
			operation: "Get",
			err:       ErrCacheCorrupted,
			wantMsg:   "cache error: operation=Get, key=evalpipe:cache:def, err=cache corrupted",
		},
		{
			name:      "store down",
			key:       "evalpipe:result:item-1",
			operation: "Save",
			err:       ErrStoreUnavailable,
			wantMsg:   "cache error: operation=Save, key=evalpipe:result:item-1, err=store unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCacheError(tt.key, tt.operation, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.key, err.Key)
			assert.Equal(t, tt.operation, err.Operation)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

// TestConfigError verifies that the error message contains the configuration key.
func TestConfigError(t *testing.T) {
	err := NewConfigError("llm.api_key", ErrConfigNotFound)

	assert.Equal(t, "config error: key=llm.api_key, err=configuration not found", err.Error())
	assert.Equal(t, "llm.api_key", err.ConfigKey)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
