package command

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/rundeck/internal/runconfig"
)

func cfgOf(t runconfig.Type, command string, args ...string) runconfig.RunConfig {
	return runconfig.RunConfig{ID: "id-" + string(t), Name: string(t), Type: t, Command: command, Args: args}
}

func TestBuilder_Deterministic(t *testing.T) {
	builders := []Builder{
		NewBuilder(PlatformUnix, "/bin/bash"),
		NewBuilder(PlatformWindows, ""),
	}
	for _, b := range builders {
		for _, typ := range runconfig.Types() {
			cfg := cfgOf(typ, "", "--flag", "two words")
			first := b.Build(cfg)
			for i := 0; i < 5; i++ {
				assert.Equal(t, first, b.Build(cfg), "%s/%s", b.Platform(), typ)
			}
		}
	}
}

func TestBuilder_ShellWithoutCommand(t *testing.T) {
	b := NewBuilder(PlatformUnix, "/bin/zsh")
	inv := b.Build(cfgOf(runconfig.TypeShell, ""))
	assert.Equal(t, "/bin/zsh", inv.Command)
	assert.Empty(t, inv.Args)

	win := NewBuilder(PlatformWindows, "").Build(cfgOf(runconfig.TypeShell, "   "))
	assert.Equal(t, "powershell.exe", win.Command)
	assert.Empty(t, win.Args)
}

func TestBuilder_ShellWithCommand(t *testing.T) {
	unix := NewBuilder(PlatformUnix, "/bin/bash").Build(cfgOf(runconfig.TypeShell, "tail -f", "app log.txt"))
	assert.Equal(t, Invocation{Command: "/bin/bash", Args: []string{"-i", "-c", "tail -f 'app log.txt'"}}, unix)

	win := NewBuilder(PlatformWindows, "").Build(cfgOf(runconfig.TypeShell, "Get-Date", "-Format", "o"))
	assert.Equal(t, Invocation{
		Command: "powershell.exe",
		Args:    []string{"-NoExit", "-Command", "Get-Date", "-Format", "o"},
	}, win)
}

func TestBuilder_Unix(t *testing.T) {
	b := NewBuilder(PlatformUnix, "")
	tests := []struct {
		name string
		cfg  runconfig.RunConfig
		want Invocation
	}{
		{
			name: "gradle default task",
			cfg:  cfgOf(runconfig.TypeGradle, ""),
			want: Invocation{Command: "/bin/sh", Args: []string{"-c",
				"if [ -x ./gradlew ]; then ./gradlew build; else gradle build; fi"}},
		},
		{
			name: "gradle with args",
			cfg:  cfgOf(runconfig.TypeGradle, "test", "--tests", "*Order*"),
			want: Invocation{Command: "/bin/sh", Args: []string{"-c",
				"if [ -x ./gradlew ]; then ./gradlew test --tests '*Order*'; else gradle test --tests '*Order*'; fi"}},
		},
		{
			name: "maven default goal",
			cfg:  cfgOf(runconfig.TypeMaven, ""),
			want: Invocation{Command: "/bin/sh", Args: []string{"-c",
				"if [ -x ./mvnw ]; then ./mvnw compile; else mvn compile; fi"}},
		},
		{
			name: "node",
			cfg:  cfgOf(runconfig.TypeNode, "dev"),
			want: Invocation{Command: "/bin/sh", Args: []string{"-c",
				"if [ -f pnpm-lock.yaml ]; then pnpm dev; elif [ -f yarn.lock ]; then yarn dev; else npm run dev; fi"}},
		},
		{
			name: "docker",
			cfg:  cfgOf(runconfig.TypeDocker, "", "--build"),
			want: Invocation{Command: "docker", Args: []string{"compose", "-f", "docker-compose.yml", "up", "--build"}},
		},
		{
			name: "spring boot",
			cfg:  cfgOf(runconfig.TypeSpringBoot, "", "--spring.profiles.active=dev"),
			want: Invocation{Command: "/bin/sh", Args: []string{"-c",
				"if [ -x ./gradlew ]; then ./gradlew bootRun --spring.profiles.active=dev; " +
					"elif [ -x ./mvnw ]; then ./mvnw spring-boot:run --spring.profiles.active=dev; " +
					"else gradle bootRun --spring.profiles.active=dev; fi"}},
		},
		{
			name: "unknown type falls back to shell",
			cfg:  runconfig.RunConfig{ID: "x", Type: "cargo", Command: "cargo run"},
			want: Invocation{Command: "/bin/sh", Args: []string{"-i", "-c", "cargo run"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Build(tt.cfg))
		})
	}
}

func TestBuilder_Windows(t *testing.T) {
	b := NewBuilder(PlatformWindows, "")
	tests := []struct {
		name string
		cfg  runconfig.RunConfig
		want string
	}{
		{"gradle", cfgOf(runconfig.TypeGradle, "clean build"),
			`if exist gradlew.bat (.\gradlew.bat clean build) else (gradle clean build)`},
		{"maven", cfgOf(runconfig.TypeMaven, "", "-DskipTests"),
			`if exist mvnw.cmd (.\mvnw.cmd compile -DskipTests) else (mvn compile -DskipTests)`},
		{"node", cfgOf(runconfig.TypeNode, ""),
			`if exist pnpm-lock.yaml (pnpm start) else if exist yarn.lock (yarn start) else (npm run start)`},
		{"spring boot", cfgOf(runconfig.TypeSpringBoot, ""),
			`if exist gradlew.bat (.\gradlew.bat bootRun) else if exist mvnw.cmd (.\mvnw.cmd spring-boot:run) else (gradle bootRun)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := b.Build(tt.cfg)
			assert.Equal(t, "cmd.exe", inv.Command)
			assert.Equal(t, []string{"/c", tt.want}, inv.Args)
		})
	}
}

func TestBuilder_NodePrefersPnpm(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell required")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	project := t.TempDir()
	for _, f := range []string{"pnpm-lock.yaml", "yarn.lock", "package.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(project, f), []byte("{}"), 0o644))
	}

	bin := t.TempDir()
	for _, tool := range []string{"pnpm", "yarn", "npm"} {
		stub := "#!/bin/sh\necho " + tool + " \"$@\"\n"
		require.NoError(t, os.WriteFile(filepath.Join(bin, tool), []byte(stub), 0o755))
	}

	inv := NewBuilder(PlatformUnix, "").Build(cfgOf(runconfig.TypeNode, "serve", "--port", "8080"))
	cmd := exec.Command(inv.Command, inv.Args...)
	cmd.Dir = project
	cmd.Env = append(os.Environ(), "PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Equal(t, "pnpm serve --port 8080", strings.TrimSpace(string(out)))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "plain-arg", Quote(PlatformUnix, "plain-arg"))
	assert.Equal(t, "''", Quote(PlatformUnix, ""))
	assert.Equal(t, `'it'\''s'`, Quote(PlatformUnix, "it's"))
	assert.Equal(t, `"a ""b"""`, Quote(PlatformWindows, `a "b"`))
	assert.Equal(t, "a 'b c'", QuoteAll(PlatformUnix, []string{"a", "b c"}))
}
