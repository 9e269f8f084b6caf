package runconfig

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, typ := range Types() {
		got, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	got, err := ParseType(" Spring-Boot ")
	require.NoError(t, err)
	assert.Equal(t, TypeSpringBoot, got)

	_, err = ParseType("cargo")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRunConfig_Validate(t *testing.T) {
	valid := New("api", TypeGradle)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"missing id", func(c *RunConfig) { c.ID = "" }},
		{"missing name", func(c *RunConfig) { c.Name = "  " }},
		{"unknown type", func(c *RunConfig) { c.Type = "cargo" }},
		{"negative delay", func(c *RunConfig) { c.RestartDelay = -1 }},
		{"negative retries", func(c *RunConfig) { c.MaxRetries = -1 }},
		{"bad env key", func(c *RunConfig) { c.Env["A=B"] = "x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid.Clone()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestRunConfig_Duplicate(t *testing.T) {
	orig := New("web", TypeNode)
	orig.Env["PORT"] = "3000"
	orig.Args = []string{"--inspect"}

	dup := orig.Duplicate()
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, "web (Copy)", dup.Name)

	dup.Env["PORT"] = "4000"
	dup.Args[0] = "--other"
	assert.Equal(t, "3000", orig.Env["PORT"])
	assert.Equal(t, "--inspect", orig.Args[0])
}

func TestRunConfig_JSONFieldNames(t *testing.T) {
	raw := `{"id":"a","name":"A","type":"docker","workingDir":"/srv","env":{},"args":[],
		"folderId":"f1","autoRestart":true,"restartDelay":500,"maxRetries":2}`

	var cfg RunConfig
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	assert.Equal(t, TypeDocker, cfg.Type)
	assert.Equal(t, "/srv", cfg.WorkingDir)
	assert.Equal(t, "f1", cfg.FolderID)
	assert.True(t, cfg.AutoRestart)
	assert.Equal(t, 500, cfg.RestartDelay)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestAppConfig_LookupAndOrder(t *testing.T) {
	a := RunConfig{ID: "1", Name: "Alpha"}
	b := RunConfig{ID: "2", Name: "Beta"}
	c := RunConfig{ID: "3", Name: "Gamma"}
	app := AppConfig{Configs: []RunConfig{a, b, c}, ConfigOrder: []string{"3", "1", "missing"}}

	got, ok := app.Lookup("2")
	require.True(t, ok)
	assert.Equal(t, "Beta", got.Name)

	got, ok = app.Lookup("gamma")
	require.True(t, ok)
	assert.Equal(t, "3", got.ID)

	_, ok = app.Lookup("delta")
	assert.False(t, ok)

	var ids []string
	for _, cfg := range app.Ordered() {
		ids = append(ids, cfg.ID)
	}
	assert.Equal(t, []string{"3", "1", "2"}, ids)
}
