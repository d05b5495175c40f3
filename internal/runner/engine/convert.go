package engine

import (
	"database/sql"

	"github.com/bdobrica/lcsm/internal/runner/protocol"
	"github.com/bdobrica/lcsm/internal/runner/store"
)

// toPayload converts a stored instance to its wire form.
func toPayload(inst *store.Instance, running bool) protocol.Instance {
	return protocol.Instance{
		ID:               inst.ID,
		Name:             inst.Name,
		LaunchCommand:    inst.LaunchCommand,
		WorkingDirectory: inst.WorkingDirectory.String,
		IsRunning:        running,
	}
}

// fromPayload converts a decoded payload to a storable instance. An empty
// working directory stays unset.
func fromPayload(p *protocol.Instance) *store.Instance {
	return &store.Instance{
		ID:            p.ID,
		Name:          p.Name,
		LaunchCommand: p.LaunchCommand,
		WorkingDirectory: sql.NullString{
			String: p.WorkingDirectory,
			Valid:  p.WorkingDirectory != "",
		},
	}
}
