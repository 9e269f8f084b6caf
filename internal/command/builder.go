// Package command turns run configurations into executable invocations.
//
// Building is pure: the same configuration always yields the same
// Invocation and no file system or environment lookups happen here. The
// build-tool fallback chains (project wrapper before global install, pnpm
// before yarn before npm) are emitted as a small script that the platform
// shell evaluates in the working directory at spawn time.
package command

import (
	"strings"

	"github.com/dshills/rundeck/internal/runconfig"
)

// Platform selects the shell dialect used for generated scripts.
type Platform int

const (
	// PlatformUnix generates POSIX sh scripts.
	PlatformUnix Platform = iota
	// PlatformWindows generates cmd.exe scripts and uses PowerShell for
	// shell configurations.
	PlatformWindows
)

// String returns the platform name.
func (p Platform) String() string {
	switch p {
	case PlatformUnix:
		return "unix"
	case PlatformWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// PlatformFor maps a GOOS value to a Platform.
func PlatformFor(goos string) Platform {
	if goos == "windows" {
		return PlatformWindows
	}
	return PlatformUnix
}

const (
	posixShell     = "/bin/sh"
	windowsCmd     = "cmd.exe"
	powerShell     = "powershell.exe"
	dockerExe      = "docker"
	defaultUnixSh  = "/bin/sh"
	defaultTask    = "build"
	defaultGoal    = "compile"
	defaultScript  = "start"
	defaultCompose = "docker-compose.yml"
)

// Invocation is an executable plus its argument list.
type Invocation struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// String renders the invocation for logs.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Command
	}
	return inv.Command + " " + strings.Join(inv.Args, " ")
}

// Builder builds invocations for one platform.
type Builder struct {
	platform Platform
	shell    string
}

// NewBuilder creates a builder. An empty shell selects the platform
// default (/bin/sh or powershell.exe).
func NewBuilder(platform Platform, shell string) Builder {
	if shell == "" {
		if platform == PlatformWindows {
			shell = powerShell
		} else {
			shell = defaultUnixSh
		}
	}
	return Builder{platform: platform, shell: shell}
}

// Platform returns the builder's platform.
func (b Builder) Platform() Platform {
	return b.platform
}

// Shell returns the interactive shell used for shell configurations.
func (b Builder) Shell() string {
	return b.shell
}

// Build returns the invocation for cfg. Unknown types fall back to the
// shell invocation.
func (b Builder) Build(cfg runconfig.RunConfig) Invocation {
	switch cfg.Type {
	case runconfig.TypeShell:
		return b.shellInvocation(cfg)
	case runconfig.TypeGradle:
		return b.gradle(cfg)
	case runconfig.TypeMaven:
		return b.maven(cfg)
	case runconfig.TypeNode:
		return b.node(cfg)
	case runconfig.TypeDocker:
		return b.docker(cfg)
	case runconfig.TypeSpringBoot:
		return b.springBoot(cfg)
	default:
		return b.shellInvocation(cfg)
	}
}

func (b Builder) shellInvocation(cfg runconfig.RunConfig) Invocation {
	if strings.TrimSpace(cfg.Command) == "" {
		return Invocation{Command: b.shell, Args: []string{}}
	}
	if b.platform == PlatformWindows {
		args := append([]string{"-NoExit", "-Command", cfg.Command}, cfg.Args...)
		return Invocation{Command: b.shell, Args: args}
	}
	return Invocation{Command: b.shell, Args: []string{"-i", "-c", b.line(cfg.Command, cfg.Args)}}
}

func (b Builder) gradle(cfg runconfig.RunConfig) Invocation {
	task := orDefault(cfg.Command, defaultTask)
	return b.script(
		alternative{probe: b.wrapper("gradlew"), run: b.line(b.wrapperExe("gradlew")+" "+task, cfg.Args)},
		alternative{run: b.line("gradle "+task, cfg.Args)},
	)
}

func (b Builder) maven(cfg runconfig.RunConfig) Invocation {
	goal := orDefault(cfg.Command, defaultGoal)
	return b.script(
		alternative{probe: b.wrapper("mvnw"), run: b.line(b.wrapperExe("mvnw")+" "+goal, cfg.Args)},
		alternative{run: b.line("mvn "+goal, cfg.Args)},
	)
}

func (b Builder) node(cfg runconfig.RunConfig) Invocation {
	script := orDefault(cfg.Command, defaultScript)
	return b.script(
		alternative{probe: "pnpm-lock.yaml", run: b.line("pnpm "+script, cfg.Args)},
		alternative{probe: "yarn.lock", run: b.line("yarn "+script, cfg.Args)},
		alternative{run: b.line("npm run "+script, cfg.Args)},
	)
}

func (b Builder) docker(cfg runconfig.RunConfig) Invocation {
	file := orDefault(cfg.Command, defaultCompose)
	args := append([]string{"compose", "-f", file, "up"}, cfg.Args...)
	return Invocation{Command: dockerExe, Args: args}
}

func (b Builder) springBoot(cfg runconfig.RunConfig) Invocation {
	return b.script(
		alternative{probe: b.wrapper("gradlew"), run: b.line(b.wrapperExe("gradlew")+" bootRun", cfg.Args)},
		alternative{probe: b.wrapper("mvnw"), run: b.line(b.wrapperExe("mvnw")+" spring-boot:run", cfg.Args)},
		alternative{run: b.line("gradle bootRun", cfg.Args)},
	)
}

// alternative is one branch of a fallback chain. The last branch has no
// probe and always runs.
type alternative struct {
	probe string
	run   string
}

// script renders a fallback chain as a single shell invocation.
func (b Builder) script(alts ...alternative) Invocation {
	var sb strings.Builder
	if b.platform == PlatformWindows {
		for i, alt := range alts {
			if i > 0 {
				sb.WriteString(" else ")
			}
			if alt.probe != "" {
				sb.WriteString("if exist " + alt.probe + " ")
			}
			sb.WriteString("(" + alt.run + ")")
		}
		return Invocation{Command: windowsCmd, Args: []string{"/c", sb.String()}}
	}

	for i, alt := range alts {
		switch {
		case alt.probe == "":
			if i == 0 {
				sb.WriteString(alt.run)
			} else {
				sb.WriteString("; else " + alt.run + "; fi")
			}
		case i == 0:
			sb.WriteString("if " + b.test(alt.probe) + "; then " + alt.run)
		default:
			sb.WriteString("; elif " + b.test(alt.probe) + "; then " + alt.run)
		}
	}
	return Invocation{Command: posixShell, Args: []string{"-c", sb.String()}}
}

// wrapper returns the file that marks a project-local build wrapper.
func (b Builder) wrapper(name string) string {
	if b.platform == PlatformWindows {
		return name + wrapperExt(name)
	}
	return "./" + name
}

func (b Builder) wrapperExe(name string) string {
	if b.platform == PlatformWindows {
		return `.\` + name + wrapperExt(name)
	}
	return "./" + name
}

func wrapperExt(name string) string {
	if name == "mvnw" {
		return ".cmd"
	}
	return ".bat"
}

// test renders a POSIX existence check. Wrapper scripts must be
// executable; lock files only need to exist.
func (b Builder) test(probe string) string {
	if strings.HasPrefix(probe, "./") {
		return "[ -x " + probe + " ]"
	}
	return "[ -f " + Quote(b.platform, probe) + " ]"
}

// line joins a raw command prefix with quoted arguments.
func (b Builder) line(prefix string, args []string) string {
	if len(args) == 0 {
		return prefix
	}
	return prefix + " " + QuoteAll(b.platform, args)
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
