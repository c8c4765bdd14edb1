// Package locale resolves user-facing strings by key.
package locale

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider returns the localized string for key, or "" when it has none.
type Provider interface {
	RequestString(key string) string
}

// Table is a flat key to string map, usually loaded from YAML.
type Table map[string]string

func (t Table) RequestString(key string) string {
	return t[key]
}

// Load reads a YAML mapping of keys to strings.
func Load(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strings: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse strings %q: %w", path, err)
	}
	return t, nil
}

// Lookup asks p for key and falls back to the built-in English string, then
// to the key itself. It never fails.
func Lookup(p Provider, key string) (s string) {
	defer func() {
		if recover() != nil {
			s = fallback(key)
		}
	}()
	if p != nil {
		if v := strings.TrimSpace(p.RequestString(key)); v != "" && v != key {
			return v
		}
	}
	return fallback(key)
}

func fallback(key string) string {
	if v, ok := defaults[key]; ok {
		return v
	}
	return key
}

// Default returns the built-in English table.
func Default() Table {
	out := make(Table, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

var defaults = map[string]string{
	"stage.checking_integrity":       "Checking memory integrity",
	"stage.integrity_enabled":        "Memory integrity is enabled",
	"prompt.disable_integrity":       "Memory integrity (core isolation) blocks the sensor drivers from loading. Turn it off in Windows Security, restart, then run the fix again.",
	"stage.checking_microphone":      "Checking the sensor microphone",
	"stage.microphone_found":         "Found the sensor microphone",
	"stage.microphone_disabled":      "The sensor microphone is disabled, enabling it",
	"stage.uninstalling_unknown":     "Removing devices stuck without a driver",
	"stage.installing_drivers":       "Installing sensor drivers",
	"stage.install.device":           "Installing the device driver",
	"stage.install.device.done":      "Installed the device driver",
	"stage.install.audio":            "Installing the audio driver",
	"stage.install.audio.done":       "Installed the audio driver",
	"stage.install.audio-array":      "Installing the audio array driver",
	"stage.install.audio-array.done": "Installed the audio array driver",
	"stage.install.camera":           "Installing the camera driver",
	"stage.install.camera.done":      "Installed the camera driver",
	"stage.install.security":         "Installing the security driver",
	"stage.install.security.done":    "Installed the security driver",
	"stage.assign_microphone":        "Assigning the microphone driver",
	"stage.assign_microphone.done":   "Assigned the microphone driver",
	"stage.rescanning":               "Scanning for hardware changes",

	"status.success":                "Success",
	"status.initializing":           "Initializing",
	"status.not-connected":          "Not connected",
	"status.not-genuine":            "Not genuine",
	"status.not-supported":          "Not supported",
	"status.insufficient-bandwidth": "Insufficient USB bandwidth",
	"status.not-powered":            "Not powered",
	"status.not-ready":              "Not ready",
	"status.undefined":              "Undefined status",
}
