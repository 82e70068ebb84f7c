// Package audit builds typed change-sets and audit log rows from before and
// after snapshots of profiles and marriages.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/wI2L/jsondiff"

	"alqefari/api/internal/store"
)

const (
	ActionProfileCreate     = "profile_create"
	ActionProfileUpdate     = "profile_update"
	ActionProfileSoftDelete = "profile_soft_delete"
	ActionMarriageCreate    = "marriage_create"
	ActionMarriageUpdate    = "marriage_update"
	ActionMarriageDelete    = "marriage_delete"

	undoSuffix = "_undo"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

var ErrUnknownField = errors.New("unknown field")

// Metadata is the typed form of audit_log.metadata.
type Metadata = store.AuditMetadata

// UndoAction names the compensating action for action.
func UndoAction(action string) string {
	return action + undoSuffix
}

// IsUndoAction reports a compensating action.
func IsUndoAction(action string) bool {
	return strings.HasSuffix(action, undoSuffix)
}

// bookkeeping fields change on every write and never count as a change.
var bookkeeping = map[string]bool{
	"version":    true,
	"updated_at": true,
	"updated_by": true,
}

var knownFields = map[string]map[string]bool{
	store.TableProfiles:  jsonFieldNames(reflect.TypeOf(store.Profile{})),
	store.TableMarriages: jsonFieldNames(reflect.TypeOf(store.Marriage{})),
}

func jsonFieldNames(t reflect.Type) map[string]bool {
	out := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			out[name] = true
		}
	}
	return out
}

// KnownField reports whether field is a column of table's snapshot.
func KnownField(table, field string) bool {
	return knownFields[table][field]
}

type FieldChange struct {
	Field string          `json:"field"`
	Old   json.RawMessage `json:"old"`
	New   json.RawMessage `json:"new"`
}

// ChangeSet is an ordered, validated list of field changes on one table.
type ChangeSet struct {
	table   string
	changes []FieldChange
}

func NewChangeSet(table string, changes []FieldChange) (ChangeSet, error) {
	fields, ok := knownFields[table]
	if !ok {
		return ChangeSet{}, fmt.Errorf("change set: unknown table %q", table)
	}
	seen := make(map[string]bool, len(changes))
	for _, c := range changes {
		if !fields[c.Field] {
			return ChangeSet{}, fmt.Errorf("change set on %s: %w: %q", table, ErrUnknownField, c.Field)
		}
		if seen[c.Field] {
			return ChangeSet{}, fmt.Errorf("change set on %s: duplicate field %q", table, c.Field)
		}
		seen[c.Field] = true
	}
	sorted := slices.Clone(changes)
	slices.SortFunc(sorted, func(a, b FieldChange) int { return strings.Compare(a.Field, b.Field) })
	return ChangeSet{table: table, changes: sorted}, nil
}

func (c ChangeSet) Table() string          { return c.table }
func (c ChangeSet) Changes() []FieldChange { return slices.Clone(c.changes) }
func (c ChangeSet) Empty() bool            { return len(c.changes) == 0 }

func (c ChangeSet) Fields() []string {
	out := make([]string, len(c.changes))
	for i, ch := range c.changes {
		out[i] = ch.Field
	}
	return out
}

func (c ChangeSet) Get(field string) (FieldChange, bool) {
	for _, ch := range c.changes {
		if ch.Field == field {
			return ch, true
		}
	}
	return FieldChange{}, false
}

// Snapshot returns the full JSON state of a profile or marriage.
func Snapshot(v any) (json.RawMessage, error) {
	switch v.(type) {
	case store.Profile, store.Marriage:
	default:
		return nil, fmt.Errorf("snapshot: unsupported type %T", v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return raw, nil
}

// Diff compares two snapshots of the same table. A nil before or after
// snapshot is treated as an empty object.
func Diff(table string, before, after json.RawMessage) (ChangeSet, error) {
	src, dst := objectOrEmpty(before), objectOrEmpty(after)

	patch, err := jsondiff.CompareJSON(src, dst)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("diff %s: %w", table, err)
	}

	var oldFields, newFields map[string]json.RawMessage
	if err := json.Unmarshal(src, &oldFields); err != nil {
		return ChangeSet{}, fmt.Errorf("diff %s: decode before: %w", table, err)
	}
	if err := json.Unmarshal(dst, &newFields); err != nil {
		return ChangeSet{}, fmt.Errorf("diff %s: decode after: %w", table, err)
	}

	seen := map[string]bool{}
	var changes []FieldChange
	for _, op := range patch {
		field := topLevelField(op.Path)
		if field == "" {
			field = topLevelField(op.From)
		}
		if field == "" || bookkeeping[field] || seen[field] {
			continue
		}
		seen[field] = true
		changes = append(changes, FieldChange{
			Field: field,
			Old:   orNull(oldFields[field]),
			New:   orNull(newFields[field]),
		})
	}
	return NewChangeSet(table, changes)
}

// topLevelField extracts the first reference token of a JSON pointer.
func topLevelField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	token, _, _ := strings.Cut(pointer, "/")
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

func objectOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return []byte(`{}`)
	}
	return raw
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

// Record describes one mutation to be written to the audit log.
type Record struct {
	Table       string
	RecordID    string
	Action      string
	Category    string
	ActorID     string
	Before      any
	After       any
	Description string
	Severity    string
	Undoable    bool
	Metadata    Metadata
	Compensates *int64
}

// NewEntry snapshots before and after, diffs them and returns the row to
// insert. Before or After may be nil for creations and hard removals.
func NewEntry(r Record) (*store.AuditEntry, ChangeSet, error) {
	if r.Table == "" || r.RecordID == "" || r.Action == "" || r.ActorID == "" {
		return nil, ChangeSet{}, errors.New("audit entry: table, record, action and actor are required")
	}

	var before, after json.RawMessage
	var err error
	if r.Before != nil {
		if before, err = Snapshot(r.Before); err != nil {
			return nil, ChangeSet{}, err
		}
	}
	if r.After != nil {
		if after, err = Snapshot(r.After); err != nil {
			return nil, ChangeSet{}, err
		}
	}

	changes, err := Diff(r.Table, before, after)
	if err != nil {
		return nil, ChangeSet{}, err
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, ChangeSet{}, fmt.Errorf("audit entry: metadata: %w", err)
	}

	severity := r.Severity
	if severity == "" {
		severity = SeverityLow
	}
	return &store.AuditEntry{
		TableName:        r.Table,
		RecordID:         r.RecordID,
		Action:           r.Action,
		ActionCategory:   r.Category,
		ActorID:          r.ActorID,
		OldData:          before,
		NewData:          after,
		ChangedFields:    changes.Fields(),
		Description:      r.Description,
		Severity:         severity,
		Metadata:         meta,
		IsUndoable:       r.Undoable,
		CompensatesLogID: r.Compensates,
	}, changes, nil
}

// DecodeMetadata parses audit_log.metadata; an empty value yields zero Metadata.
func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	var m Metadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode audit metadata: %w", err)
	}
	return m, nil
}

// Version reads the version recorded in a snapshot.
func Version(snapshot json.RawMessage) (int, bool) {
	if len(snapshot) == 0 {
		return 0, false
	}
	var v struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(snapshot, &v); err != nil || v.Version == nil {
		return 0, false
	}
	return *v.Version, true
}

// Field reads one top-level field of a snapshot.
func Field(snapshot json.RawMessage, field string) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(objectOrEmpty(snapshot), &fields); err != nil {
		return nil, false
	}
	raw, ok := fields[field]
	return raw, ok
}
