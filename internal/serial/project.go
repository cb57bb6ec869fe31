// Package serial owns the canonical project persistence format and its
// schema migrations.
//
// Loading is non-destructive: on any fatal parse or schema error the
// caller keeps its last valid graph. Older schema versions migrate
// stepwise with warnings; newer versions fail the load.
package serial

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/pulsegrid/internal/audio"
	"github.com/roach88/pulsegrid/internal/model"
)

// CurrentSchemaVersion is the version this build writes.
const CurrentSchemaVersion = 1

// ErrorCode categorizes load failures.
type ErrorCode string

const (
	CodeParse              ErrorCode = "SERIAL_PARSE"
	CodeVersionUnsupported ErrorCode = "SERIAL_VERSION_UNSUPPORTED"
)

// WarnVersionMigrated flags a successful stepwise migration.
const WarnVersionMigrated = "SERIAL_VERSION_MIGRATED"

// Error is one load failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Warning is one non-fatal load note.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Settings is the persisted global settings block.
type Settings struct {
	Tempo float64 `json:"tempo"`
}

// Meta is optional project bookkeeping. Timestamps are RFC 3339 strings
// written by the host, never interpreted by the engine.
type Meta struct {
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Project is the canonical persisted document.
type Project struct {
	SchemaVersion int            `json:"schemaVersion"`
	Graph         model.Snapshot `json:"graph"`
	Samples       []*audio.Slot  `json:"samples,omitempty"`
	Settings      *Settings      `json:"settings,omitempty"`
	Project       *Meta          `json:"project,omitempty"`
}

// LoadResult reports a load. OK false means Project is nil; the caller
// retains its last valid state.
type LoadResult struct {
	OK       bool
	Project  *Project
	Warnings []Warning
	Errors   []*Error
}

// Save serializes a project at the current schema version.
func Save(p *Project) ([]byte, error) {
	out := *p
	out.SchemaVersion = CurrentSchemaVersion
	return json.MarshalIndent(&out, "", "  ")
}

// Load parses project JSON, migrating older schema versions stepwise.
func Load(data []byte) *LoadResult {
	res := &LoadResult{}

	// First pass: version plus the raw document for migrations.
	var probe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		res.Errors = append(res.Errors, &Error{Code: CodeParse, Message: err.Error()})
		return res
	}
	version := probe.SchemaVersion
	if version > CurrentSchemaVersion {
		res.Errors = append(res.Errors, &Error{
			Code:    CodeVersionUnsupported,
			Message: fmt.Sprintf("schema version %d is newer than supported %d", version, CurrentSchemaVersion),
		})
		return res
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		res.Errors = append(res.Errors, &Error{Code: CodeParse, Message: err.Error()})
		return res
	}

	for version < CurrentSchemaVersion {
		var err error
		raw, err = migrate(raw, version)
		if err != nil {
			res.Errors = append(res.Errors, &Error{Code: CodeParse, Message: err.Error()})
			return res
		}
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnVersionMigrated,
			Message: fmt.Sprintf("migrated schema v%d to v%d", version, version+1),
		})
		version++
	}

	migrated, err := json.Marshal(raw)
	if err != nil {
		res.Errors = append(res.Errors, &Error{Code: CodeParse, Message: err.Error()})
		return res
	}

	var p Project
	if err := json.Unmarshal(migrated, &p); err != nil {
		res.Errors = append(res.Errors, &Error{Code: CodeParse, Message: err.Error()})
		return res
	}
	p.SchemaVersion = CurrentSchemaVersion

	res.OK = true
	res.Project = &p
	return res
}

// migrate applies the single-step migration from the given version.
func migrate(raw map[string]json.RawMessage, from int) (map[string]json.RawMessage, error) {
	switch from {
	case 0:
		return migrateV0toV1(raw)
	}
	return nil, fmt.Errorf("no migration from schema v%d", from)
}

// migrateV0toV1 moves top-level groups under graph.groups.
func migrateV0toV1(raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	groupsRaw, ok := raw["groups"]
	if !ok {
		return raw, nil
	}
	delete(raw, "groups")

	var graph map[string]json.RawMessage
	if g, ok := raw["graph"]; ok {
		if err := json.Unmarshal(g, &graph); err != nil {
			return nil, fmt.Errorf("v0 graph: %w", err)
		}
	} else {
		graph = map[string]json.RawMessage{}
	}
	graph["groups"] = groupsRaw

	g, err := json.Marshal(graph)
	if err != nil {
		return nil, err
	}
	raw["graph"] = g
	return raw, nil
}
