// Package unitfile represents a parsed unit file and the command
// specifications it declares, and knows how to spawn one of those
// commands as a live child process.
package unitfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNoStartCommand indicates a unit file is missing its mandatory "start" entry.
var ErrNoStartCommand = errors.New("unitfile: no start command")

// StartCommand is the mandatory command-table key every unit file must define.
const StartCommand = "start"

// Info is the unit file's free-form metadata section. Optional.
type Info struct {
	Description string `toml:"description"`
	Homepage    string `toml:"homepage"`
}

// Service is the unit file's service-identity section. Every field is
// optional and defaults per the zero value.
type Service struct {
	Name     string   `toml:"name"`
	Provides string   `toml:"provides"`
	Depends  []string `toml:"depends"`
	Oneshot  bool     `toml:"oneshot"`
}

// CommandSpec is one runnable line from the unit file's commands table.
type CommandSpec struct {
	Command   string `toml:"command"`
	User      string `toml:"user"`
	Group     string `toml:"group"`
	Directory string `toml:"directory"`
}

// UnitFile is the parsed, validated contents of one service's unit file.
type UnitFile struct {
	Info     *Info                  `toml:"info"`
	Service  Service                `toml:"service"`
	Commands map[string]CommandSpec `toml:"commands"`
}

// Parse decodes raw TOML bytes into a UnitFile and validates that a
// "start" command is present.
func Parse(data []byte) (UnitFile, error) {
	var uf UnitFile
	if _, err := toml.Decode(string(data), &uf); err != nil {
		return UnitFile{}, fmt.Errorf("unitfile: decoding: %w", err)
	}

	if _, ok := uf.Commands[StartCommand]; !ok {
		return UnitFile{}, ErrNoStartCommand
	}

	return uf, nil
}

// ParseFile reads and parses the unit file at path.
func ParseFile(path string) (UnitFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UnitFile{}, fmt.Errorf("unitfile: reading %s: %w", path, err)
	}

	uf, err := Parse(data)
	if err != nil {
		return UnitFile{}, fmt.Errorf("unitfile: %s: %w", path, err)
	}
	return uf, nil
}

// Name returns the service's runtime name: the explicit service.name
// if set, else the unit file's stem (its base name with the extension
// removed).
func (u UnitFile) Name(filePath string) string {
	if u.Service.Name != "" {
		return u.Service.Name
	}
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Start returns the mandatory "start" command.
func (u UnitFile) Start() CommandSpec {
	return u.Commands[StartCommand]
}
