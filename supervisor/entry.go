package supervisor

import (
	"github.com/hen6003/iodine/unitfile"
	"github.com/hen6003/iodine/worker"
)

// ServiceEntry is one named service the supervisor knows about: its
// parsed unit file and, once started, the worker handle controlling
// it.
type ServiceEntry struct {
	Name   string
	Unit   unitfile.UnitFile
	Handle *worker.Handle
}

// ProvidesIndex maps a "provides" tag to every service name that
// declares it, built once at startup and read-only thereafter.
type ProvidesIndex map[string][]string

// addProvides inserts name under unit's provides tag, if it declares one.
func (idx ProvidesIndex) addProvides(name string, unit unitfile.UnitFile) {
	if unit.Service.Provides == "" {
		return
	}
	idx[unit.Service.Provides] = append(idx[unit.Service.Provides], name)
}
