package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeConfig writes a config whose databases live in a temp dir. extra is
// appended verbatim as additional top-level YAML.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`primary:
  path: %s
log:
  path: %s
logging:
  level: warn
%s`, filepath.Join(dir, "primary.db"), filepath.Join(dir, "log.db"), extra)

	path := filepath.Join(dir, "crosstx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

// logPath returns the log database configured by writeConfig.
func logPath(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), "log.db")
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
