// Package engine holds what the speech engines share: compute provider
// discovery and ranking.
package engine

import (
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Well-known compute providers.
const (
	ProviderCPU   = "cpu"
	ProviderCUDA  = "cuda"
	ProviderMetal = "metal"
)

// ProviderOptions selects and orders compute providers for a model load.
type ProviderOptions struct {
	// Exclude lists providers that must never be used.
	Exclude []string `json:"exclude" yaml:"exclude" toml:"exclude"`
	// Priority orders providers, higher first. Unlisted providers rank 0.
	Priority map[string]int `json:"priority" yaml:"priority" toml:"priority"`
	// Options carries per-provider key/value settings passed to the engine.
	Options map[string]map[string]string `json:"options" yaml:"options" toml:"options"`
}

// Provider is a ranked provider with its options attached.
type Provider struct {
	Name    string
	Options map[string]string
}

// Rank filters excluded providers out of available and stable-sorts the
// rest by descending priority.
func Rank(available []string, opts ProviderOptions) []Provider {
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, p := range opts.Exclude {
		excluded[p] = true
	}
	out := make([]Provider, 0, len(available))
	for _, name := range available {
		if excluded[name] {
			continue
		}
		out = append(out, Provider{Name: name, Options: opts.Options[name]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return opts.Priority[out[i].Name] > opts.Priority[out[j].Name]
	})
	return out
}

// Top returns the first ranked provider, or a bare cpu provider when none
// remain.
func Top(ranked []Provider) Provider {
	if len(ranked) == 0 {
		return Provider{Name: ProviderCPU}
	}
	return ranked[0]
}

// Preferred returns the first ranked provider name, or cpu when none remain.
func Preferred(ranked []Provider) string { return Top(ranked).Name }

// Flag maps a provider option onto an engine command-line flag.
type Flag struct {
	Name string
	// Switch flags take no value; the option turns them on when true.
	Switch bool
}

// CheckOptions rejects option keys of p outside known.
func CheckOptions(p Provider, known ...string) error {
	var unknown []string
	for k := range p.Options {
		if !slices.Contains(known, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("provider %s: unsupported options %s", p.Name, strings.Join(unknown, ", "))
	}
	return nil
}

// OptionArgs translates the options of p into argv using flags, in key
// order. Unknown keys and malformed switch values are errors.
func OptionArgs(p Provider, flags map[string]Flag) ([]string, error) {
	known := make([]string, 0, len(flags))
	for k := range flags {
		known = append(known, k)
	}
	if err := CheckOptions(p, known...); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var args []string
	for _, k := range keys {
		f, v := flags[k], p.Options[k]
		if !f.Switch {
			args = append(args, f.Name, v)
			continue
		}
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("provider %s: option %s: %w", p.Name, k, err)
		}
		if on {
			args = append(args, f.Name)
		}
	}
	return args, nil
}

var lookPath = exec.LookPath

// Available lists the providers usable on this host: cpu always, cuda when
// nvidia-smi is on PATH, metal on darwin.
func Available() []string {
	out := []string{}
	if _, err := lookPath("nvidia-smi"); err == nil {
		out = append(out, ProviderCUDA)
	}
	if runtime.GOOS == "darwin" {
		out = append(out, ProviderMetal)
	}
	return append(out, ProviderCPU)
}
