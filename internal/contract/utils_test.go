package contract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlainLabel(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"smallest value possible", 0.0, LowValue},
		{"just before moderate", 39.9, LowValue},
		{"exactly moderate", 40.0, ModerateValue},
		{"just before high", 59.9, ModerateValue},
		{"exactly high", 60.0, HighValue},
		{"just before critical", 79.9, HighValue},
		{"exactly critical", 80.0, CriticalValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetPlainLabel(tt.input))
		})
	}
}

func TestGetColorLabel(t *testing.T) {
	for score, label := range map[float64]string{30: LowValue, 50: ModerateValue, 70: HighValue, 90: CriticalValue} {
		// Should contain the plain label
		assert.Contains(t, GetColorLabel(score), label)
	}
}

func TestGetColorStatus(t *testing.T) {
	for _, status := range []string{"DONE", "FAILED", "PAUSED", "IN_PROGRESS", "pending"} {
		assert.Contains(t, GetColorStatus(status), status)
	}
}

func TestSelectOutputFile(t *testing.T) {
	t.Run("empty path returns stdout", func(t *testing.T) {
		file, err := SelectOutputFile("")
		require.NoError(t, err)
		assert.Equal(t, os.Stdout, file)
	})

	t.Run("valid path creates file", func(t *testing.T) {
		tempFile := filepath.Join(t.TempDir(), "test_output.txt")
		file, err := SelectOutputFile(tempFile)
		require.NoError(t, err)
		_ = file.Close()

		_, err = os.Stat(tempFile)
		assert.NoError(t, err)
	})
}

func TestGetDBFilePath(t *testing.T) {
	path := GetDBFilePath()
	assert.True(t, strings.HasSuffix(path, ".devyear.db"))
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", TruncateText("short", 10))
	assert.Equal(t, "feat: a...", TruncateText("feat: add billing export", 10))
	assert.Equal(t, "abcdef", TruncateText("abcdef", 3))
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"yes", "TRUE", "1"} {
		v, err := ParseBoolString(s)
		require.NoError(t, err)
		assert.True(t, v)
	}
	for _, s := range []string{"no", "False", "0"} {
		v, err := ParseBoolString(s)
		require.NoError(t, err)
		assert.False(t, v)
	}
	_, err := ParseBoolString("perhaps")
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("rate limited")
	transient := NewTransientError("complete", base)
	assert.True(t, IsTransient(transient))
	assert.ErrorIs(t, transient, base)
	assert.False(t, IsFatal(transient))

	fatal := NewFatalError("all repositories failed", nil)
	assert.True(t, IsFatal(fatal))
	assert.Equal(t, "all repositories failed", fatal.Error())

	partial := &PartialFailure{Phase: "WORK_UNITS", Failed: 1, Total: 3}
	assert.True(t, IsPartial(partial))
	assert.Equal(t, "WORK_UNITS: 1 of 3 items failed", partial.Error())

	validation := NewValidationError("year", "must be between %d and %d", 2005, 2026)
	assert.True(t, IsValidation(validation))
	assert.Equal(t, "invalid year: must be between 2005 and 2026", validation.Error())
}
