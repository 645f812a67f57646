package supervisor

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

// registryFileMode: world-readable, owner-writable.
const registryFileMode = 0o644

// registryFile returns the path of the service registry dump within dir.
func registryFile(dir string) string {
	return filepath.Join(dir, "iodine.services")
}

// dumpRegistry atomically writes a human-readable snapshot of every
// known service: name, provides tag, and last observed status. It uses
// renameio.WriteFile rather than a direct os.WriteFile, so a reader
// never observes a half-written file.
func dumpRegistry(dir string, entries map[string]*ServiceEntry) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		e := entries[name]
		provides := e.Unit.Service.Provides
		if provides == "" {
			provides = "-"
		}
		status := e.Handle.Status()
		fmt.Fprintf(&b, "%s\t%s\t%s\n", name, provides, status)
	}

	if err := renameio.WriteFile(registryFile(dir), []byte(b.String()), registryFileMode); err != nil {
		return &ServeError{Op: "dump registry", Path: dir, Err: err}
	}
	return nil
}
