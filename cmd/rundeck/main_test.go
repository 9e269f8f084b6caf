package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/rundeck/internal/runconfig"
	"github.com/dshills/rundeck/internal/supervisor"
)

const springRunXML = `<component name="ProjectRunConfigurationManager">
  <configuration default="false" name="OrderService" type="SpringBootApplicationConfigurationType">
    <option name="ACTIVE_PROFILES" />
    <option name="SPRING_BOOT_ACTIVE_PROFILES" value="local" />
    <option name="WORKING_DIRECTORY" value="$PROJECT_DIR$/orders" />
    <envs>
      <env name="PORT" value="8081" />
    </envs>
  </configuration>
</component>`

// runCLI runs the command line against an isolated settings file and store.
func runCLI(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	base := []string{
		"-config", filepath.Join(dir, "settings.toml"),
		"-store-path", filepath.Join(dir, "config.json"),
	}
	code := run(append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "RunDeck dev")

	stdout.Reset()
	assert.Equal(t, 0, run([]string{"-v"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Commit:")
}

func TestRun_UsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage: rundeck")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"frobnicate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "frobnicate"`)

	stderr.Reset()
	assert.Equal(t, 0, run([]string{"-h"}, &stdout, &stderr))
}

func TestRun_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := runCLI(t, dir, "-log-level", "loud", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid log level")
}

func TestRun_ImportThenList(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "OrderService.run.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(springRunXML), 0o644))

	code, _, stderr := runCLI(t, dir, "list")
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := runCLI(t, dir, "import", "-project", "/src/shop", xmlPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Imported OrderService")

	code, stdout, stderr = runCLI(t, dir, "list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "OrderService")
	assert.Contains(t, stdout, "spring-boot")
}

func TestRun_ImportRejectsNonRunConfig(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "pom.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte("<project/>"), 0o644))

	code, _, stderr := runCLI(t, dir, "import", xmlPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestRun_RunUnknownConfig(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := runCLI(t, dir, "run", "nothing")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestLoadSettings_Layers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\naddr = \"127.0.0.1:9000\"\n[log]\nlevel = \"warn\"\n"), 0o644))

	s, err := loadSettings(options{ConfigPath: path, Store: "BOLT"}, []string{
		"RUNDECK_OUTPUT_FLUSH_INTERVAL=40ms",
		"RUNDECK_SERVER_ADDR=127.0.0.1:9100",
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", s.Server.Addr)
	assert.Equal(t, "warn", s.Log.Level)
	assert.Equal(t, 40*time.Millisecond, s.Output.FlushInterval.Std())
	assert.Equal(t, "bolt", s.Store.Backend)

	s, err = loadSettings(options{ConfigPath: path, Debug: true, Addr: ":1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, ":1", s.Server.Addr)
}

func TestImportRunXML_ResolvesProjectDir(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.run.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(springRunXML), 0o644))

	cfg, err := importRunXML(xmlPath, "orders", "/src/shop")
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, runconfig.TypeSpringBoot, cfg.Type)
	assert.Equal(t, filepath.Join("/src/shop", "orders"), cfg.WorkingDir)
	assert.Equal(t, "8081", cfg.Env["PORT"])
	assert.Equal(t, []string{"--spring.profiles.active=local"}, cfg.Args)
}

func TestFinished(t *testing.T) {
	cfg := runconfig.New("x", runconfig.TypeShell)
	cfg.AutoRestart = true
	cfg.MaxRetries = 2

	assert.True(t, finished(cfg, supervisor.ProcessState{Status: supervisor.StatusStopped}))
	assert.False(t, finished(cfg, supervisor.ProcessState{Status: supervisor.StatusRunning}))
	assert.False(t, finished(cfg, supervisor.ProcessState{Status: supervisor.StatusError, RestartCount: 1}))
	assert.True(t, finished(cfg, supervisor.ProcessState{Status: supervisor.StatusError, RestartCount: 2}))

	cfg.AutoRestart = false
	assert.True(t, finished(cfg, supervisor.ProcessState{Status: supervisor.StatusError}))
}

func TestExitStatus(t *testing.T) {
	code := 7
	assert.Equal(t, 7, exitStatus(supervisor.ProcessState{Status: supervisor.StatusError, ExitCode: &code}))
	assert.Equal(t, 1, exitStatus(supervisor.ProcessState{Status: supervisor.StatusError}))
	assert.Equal(t, 0, exitStatus(supervisor.ProcessState{Status: supervisor.StatusStopped}))
}

func TestForwardInput(t *testing.T) {
	var got []byte
	forwardInput(bytes.NewReader([]byte("hello\n")), func(p []byte) error {
		got = append(got, p...)
		return nil
	})
	assert.Equal(t, "hello\n", string(got))
}

func TestRun_DiscoverAndAdd(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "web")
	require.NoError(t, os.Mkdir(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "package.json"), []byte(`{"scripts":{"dev":"vite"}}`), 0o644))

	code, stdout, stderr := runCLI(t, dir, "discover", project)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "npm dev")

	code, stdout, stderr = runCLI(t, dir, "discover", "-add", project)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Added npm dev")

	code, stdout, _ = runCLI(t, dir, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "npm run dev")
}
