package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scaleManifest = `
module "math.scale" {
  menu        = "Math > Scale"
  accelerator = "ctrl shift S"

  input "value" {
    type     = number
    required = true
  }
  input "factor" {
    type    = number
    default = 2
  }
  output "result" {
    type = number
  }
  script = "result = value * factor"
}
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	modules := filepath.Join(dir, "modules")
	require.NoError(t, os.Mkdir(modules, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modules, "scale.hcl"), []byte(scaleManifest), 0o600))

	cfg := "logging:\n  level: error\nconcurrency:\n  workers: 2\nmanifests:\n  dirs: [" + modules + "]\n"
	path := filepath.Join(dir, "talos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "text.case")
	assert.Contains(t, out, "math.scale")
	assert.Contains(t, out, "Math > Scale")
	assert.Contains(t, out, "value:float64")
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "positional", args: []string{"run", "math.scale", "4", "3"}, want: "result = 12\n"},
		{name: "default applies", args: []string{"run", "math.scale", "--set", "value=5"}, want: "result = 10\n"},
		{name: "json", args: []string{"run", "text.case", "hello world", "upper", "--json"}, want: "\"result\": \"HELLO WORLD\""},
		{name: "unknown module", args: []string{"run", "math.nope"}, wantErr: `unknown module "math.nope"`},
		{name: "missing required", args: []string{"run", "math.scale", "--set", "factor=3"}, wantErr: "unresolved: value"},
		{name: "mixed binding", args: []string{"run", "math.scale", "1", "--set", "factor=3"}, wantErr: "cannot be combined"},
		{name: "bad set", args: []string{"run", "math.scale", "--set", "value"}, wantErr: "expected name=value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "chatty", "list")
	assert.ErrorContains(t, err, "logging.level")
}
