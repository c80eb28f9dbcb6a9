// Package event carries registry and execution notifications to external
// subscribers such as menus, dashboards or other Talos instances.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/wehubfusion/Talos/pkg/module"
)

// Kind identifies an event type. Kinds double as subject/channel suffixes.
type Kind string

const (
	ModulesAdded   Kind = "modules.added"
	ModulesRemoved Kind = "modules.removed"
	ModuleExecuted Kind = "module.executed"
)

// Execution status values carried by ModuleExecuted events.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Event is a single notification. Modules is set for registry changes,
// Execution for ModuleExecuted.
type Event struct {
	ID        string
	Kind      Kind
	Time      time.Time
	Modules   []*module.Info
	Execution *Execution
}

// Execution summarizes one finished module run.
type Execution struct {
	ID      string         `json:"id"`
	Module  string         `json:"module"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NewModulesAdded builds a ModulesAdded event for infos.
func NewModulesAdded(infos []*module.Info) Event {
	return newEvent(ModulesAdded, infos)
}

// NewModulesRemoved builds a ModulesRemoved event for infos.
func NewModulesRemoved(infos []*module.Info) Event {
	return newEvent(ModulesRemoved, infos)
}

// NewModuleExecuted builds a ModuleExecuted event.
func NewModuleExecuted(exec Execution) Event {
	e := newEvent(ModuleExecuted, nil)
	e.Execution = &exec
	return e
}

func newEvent(kind Kind, infos []*module.Info) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Time:    time.Now().UTC(),
		Modules: infos,
	}
}

type wireModule struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Menu        string `json:"menu,omitempty"`
	Accelerator string `json:"accelerator,omitempty"`
}

type wireEvent struct {
	ID        string       `json:"id"`
	Kind      Kind         `json:"kind"`
	Time      time.Time    `json:"time"`
	Modules   []wireModule `json:"modules,omitempty"`
	Execution *Execution   `json:"execution,omitempty"`
}

// MarshalJSON encodes the event in its wire form. Module descriptors are
// reduced to name, label, menu path and accelerator.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{ID: e.ID, Kind: e.Kind, Time: e.Time, Execution: e.Execution}
	for _, info := range e.Modules {
		wm := wireModule{Name: info.Name(), Label: info.Label(), Menu: info.MenuPath().String()}
		if acc, ok := info.Accelerator(); ok {
			wm.Accelerator = acc.String()
		}
		w.Modules = append(w.Modules, wm)
	}
	return json.Marshal(w)
}

// ModuleNames returns the names of the modules carried by e.
func (e Event) ModuleNames() []string {
	names := make([]string, len(e.Modules))
	for i, info := range e.Modules {
		names[i] = info.Name()
	}
	return names
}
