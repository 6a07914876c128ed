package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/dispatch"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
)

type driverMetadata struct {
	DriverID string            `json:"driver_id"`
	Version  string            `json:"version"`
	Name     map[string]string `json:"name"`
	Port     int               `json:"port"`
}

type report struct {
	Setup    string   `yaml:"setup"`
	Driver   string   `yaml:"driver"`
	Commands []string `yaml:"commands,omitempty"`
	Errors   []string `yaml:"errors,omitempty"`
	Warnings []string `yaml:"warnings,omitempty"`
}

func (r *report) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var driverIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,62}[a-z0-9]$`)

func main() {
	var (
		setupPath  = flag.String("setup", "setup.json", "path to setup.json")
		driverPath = flag.String("driver", "driver.json", "path to driver metadata")
		format     = flag.String("format", "text", "output format: text or yaml")
	)
	flag.Parse()

	r := verify(*setupPath, *driverPath)
	if err := write(os.Stdout, os.Stderr, r, *format); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}
	if len(r.Errors) > 0 {
		os.Exit(1)
	}
}

func verify(setupPath, driverPath string) report {
	r := report{Setup: setupPath, Driver: driverPath}

	if b, err := os.ReadFile(setupPath); err != nil {
		r.fail("read setup: %v", err)
	} else {
		for _, err := range setup.Verify(b) {
			r.fail("%s: %v", setupPath, err)
		}
		r.Commands = setup.CommandsOf(b)
		for _, cmd := range r.Commands {
			if !dispatch.Supports(cmd) {
				r.warn("command %q is not a known request kind; its entity will answer 404", cmd)
			}
		}
	}

	b, err := os.ReadFile(driverPath)
	if err != nil {
		r.fail("read driver metadata: %v", err)
		return r
	}
	var md driverMetadata
	if err := json.Unmarshal(b, &md); err != nil {
		r.fail("driver metadata is not valid JSON: %v", err)
		return r
	}
	if !driverIDRe.MatchString(md.DriverID) {
		r.fail("driver_id %q does not match required pattern", md.DriverID)
	}
	if v := strings.TrimSpace(md.Version); v == "" {
		r.fail("driver metadata has no version")
	} else if !semver.IsValid("v" + strings.TrimPrefix(v, "v")) {
		r.fail("driver version %q is not semantic", v)
	}
	if strings.TrimSpace(md.Name["en"]) == "" {
		r.fail("driver metadata has no english name")
	}
	if md.Port == 0 {
		r.warn("driver metadata has no port; the hub will use the mDNS record")
	}
	return r
}

func write(stdout, stderr io.Writer, r report, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		for _, e := range r.Errors {
			fmt.Fprintf(stderr, "ERROR: %s\n", e)
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(stderr, "WARN: %s\n", w)
		}
		if len(r.Errors) == 0 {
			fmt.Fprintln(stdout, "OK: setup verification passed")
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
