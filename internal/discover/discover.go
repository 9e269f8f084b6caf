// Package discover proposes run configurations for a project directory by
// inspecting the build files it contains.
package discover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dshills/rundeck/internal/runconfig"
)

// Candidate is a proposed configuration and the file it came from.
type Candidate struct {
	Source string
	Config runconfig.RunConfig
}

// source inspects one kind of build file in dir. It returns no candidates
// when the file is absent.
type source struct {
	name  string
	files []string
	parse func(dir, path string) ([]runconfig.RunConfig, error)
}

var sources = []source{
	{"taskfile", []string{"Taskfile.yml", "Taskfile.yaml", "taskfile.yml", "taskfile.yaml"}, parseTaskfile},
	{"npm", []string{"package.json"}, parsePackageJSON},
	{"compose", []string{"compose.yaml", "compose.yml", "docker-compose.yml", "docker-compose.yaml"}, parseCompose},
	{"gradle", []string{"build.gradle.kts", "build.gradle"}, parseGradle},
	{"maven", []string{"pom.xml"}, parseMaven},
}

// Dir returns candidates for every build file found directly in dir.
// Candidates are ordered by source, then by name.
func Dir(ctx context.Context, dir string) ([]Candidate, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", abs)
	}

	var out []Candidate
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, ok := firstExisting(abs, src.files)
		if !ok {
			continue
		}
		cfgs, err := src.parse(abs, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Name < cfgs[j].Name })
		for _, cfg := range cfgs {
			out = append(out, Candidate{Source: src.name, Config: cfg})
		}
	}
	return out, nil
}

func firstExisting(dir string, names []string) (string, bool) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func newConfig(dir, name string, t runconfig.Type) runconfig.RunConfig {
	cfg := runconfig.New(name, t)
	cfg.WorkingDir = dir
	return cfg
}

type taskfile struct {
	Env   map[string]string      `yaml:"env"`
	Tasks map[string]taskfileDef `yaml:"tasks"`
}

type taskfileDef struct {
	Dir      string            `yaml:"dir"`
	Env      map[string]string `yaml:"env"`
	Internal bool              `yaml:"internal"`
}

// parseTaskfile turns every public go-task task into a shell configuration.
func parseTaskfile(dir, path string) ([]runconfig.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf taskfile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, err
	}

	var out []runconfig.RunConfig
	for name, def := range tf.Tasks {
		if def.Internal {
			continue
		}
		cfg := newConfig(dir, "task "+name, runconfig.TypeShell)
		cfg.Command = "task " + name
		for k, v := range tf.Env {
			cfg.Env[k] = v
		}
		for k, v := range def.Env {
			cfg.Env[k] = v
		}
		if def.Dir != "" {
			cfg.WorkingDir = resolve(dir, def.Dir)
		}
		out = append(out, cfg)
	}
	return out, nil
}

type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// parsePackageJSON turns every npm script into a node configuration.
func parsePackageJSON(dir, path string) ([]runconfig.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	out := make([]runconfig.RunConfig, 0, len(pkg.Scripts))
	for name := range pkg.Scripts {
		cfg := newConfig(dir, "npm "+name, runconfig.TypeNode)
		cfg.Command = name
		out = append(out, cfg)
	}
	return out, nil
}

type composeFile struct {
	Services map[string]yaml.Node `yaml:"services"`
}

// parseCompose proposes one docker configuration bringing up the whole
// compose project.
func parseCompose(dir, path string) ([]runconfig.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	if len(cf.Services) == 0 {
		return nil, errors.New("no services")
	}
	cfg := newConfig(dir, "compose "+filepath.Base(dir), runconfig.TypeDocker)
	cfg.Command = filepath.Base(path)
	return []runconfig.RunConfig{cfg}, nil
}

func parseGradle(dir, _ string) ([]runconfig.RunConfig, error) {
	return []runconfig.RunConfig{newConfig(dir, "gradle "+filepath.Base(dir), runconfig.TypeGradle)}, nil
}

func parseMaven(dir, _ string) ([]runconfig.RunConfig, error) {
	return []runconfig.RunConfig{newConfig(dir, "maven "+filepath.Base(dir), runconfig.TypeMaven)}, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
