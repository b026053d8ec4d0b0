package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
	l.With("vin", "VIN1").Infof("child")
}

func TestConfigureWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		outputMu.Lock()
		output = os.Stdout
		outputMu.Unlock()
	})
	require.NoError(t, Configure(Config{Level: "info", File: path, MaxSizeMB: 1}))

	l := New("file")
	l.Debugf("hidden")
	l.Infof("visible")
	ForVehicle("VIN9").Warnf("vehicle line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"vin":"VIN9"`)
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	if err := Configure(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error")
	}
}
