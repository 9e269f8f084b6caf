package runconfig

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SpringBootRunXML holds the fields RunDeck understands from an IntelliJ
// Spring Boot run configuration (.run.xml or .idea/runConfigurations/*.xml).
type SpringBootRunXML struct {
	Name             string
	MainClass        string
	VMParameters     string
	ActiveProfiles   string
	WorkingDirectory string
	Env              map[string]string
}

type xmlConfiguration struct {
	Name    string      `xml:"name,attr"`
	Options []xmlOption `xml:"option"`
	Envs    []xmlOption `xml:"envs>env"`
}

type xmlOption struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ParseIntelliJRunXML extracts a Spring Boot run configuration from data.
// The <configuration> element may be the document root or nested inside a
// <component>.
func ParseIntelliJRunXML(data []byte) (*SpringBootRunXML, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, ErrNotRunConfiguration
		}
		if err != nil {
			return nil, fmt.Errorf("parse run configuration: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "configuration" {
			continue
		}

		var cfg xmlConfiguration
		if err := dec.DecodeElement(&cfg, &start); err != nil {
			return nil, fmt.Errorf("parse run configuration: %w", err)
		}
		return cfg.toRunXML(), nil
	}
}

func (c xmlConfiguration) toRunXML() *SpringBootRunXML {
	out := &SpringBootRunXML{Name: c.Name}
	for _, opt := range c.Options {
		switch opt.Name {
		case "MAIN_CLASS_NAME":
			out.MainClass = opt.Value
		case "VM_PARAMETERS":
			out.VMParameters = opt.Value
		case "SPRING_BOOT_ACTIVE_PROFILES":
			out.ActiveProfiles = opt.Value
		case "WORKING_DIRECTORY":
			out.WorkingDirectory = opt.Value
		}
	}
	if len(c.Envs) > 0 {
		out.Env = make(map[string]string, len(c.Envs))
		for _, env := range c.Envs {
			if env.Name != "" && env.Value != "" {
				out.Env[env.Name] = env.Value
			}
		}
	}
	return out
}

// ToRunConfig converts the parsed configuration into a spring-boot
// RunConfig. An empty name falls back to the name stored in the XML.
//
// VM parameters are passed through JAVA_TOOL_OPTIONS so that both bootRun
// and spring-boot:run pick them up.
func (x *SpringBootRunXML) ToRunConfig(name string) RunConfig {
	if name == "" {
		name = x.Name
	}
	if name == "" {
		name = "Spring Boot"
	}

	cfg := New(name, TypeSpringBoot)
	cfg.WorkingDir = strings.ReplaceAll(x.WorkingDirectory, "$PROJECT_DIR$", ".")
	for k, v := range x.Env {
		cfg.Env[k] = v
	}
	if x.ActiveProfiles != "" {
		cfg.Args = append(cfg.Args, "--spring.profiles.active="+x.ActiveProfiles)
	}
	if x.VMParameters != "" {
		if _, ok := cfg.Env["JAVA_TOOL_OPTIONS"]; !ok {
			cfg.Env["JAVA_TOOL_OPTIONS"] = x.VMParameters
		}
	}
	return cfg
}
