// Package formatter renders kernel object/checkpoint/recording
// identifiers for logs and debug tooling, the way the teacher's own
// formatter package renders container identifiers.
package formatter

import (
	"fmt"

	"github.com/docker/docker/pkg/stringid"
)

// ObjectID formats a kernel object.ID (kept as a plain uint64 here to
// avoid importing the object package into a display-only leaf).
type ObjectID struct {
	ID uint64
}

// hexID reuses stringid.TruncateID's "first N characters" convention,
// applied to a zero-padded hex string instead of a random 64-character
// container id, since kernel object ids are small dense integers rather
// than random hashes.
func hexID(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

func (o ObjectID) ShortID() string {
	return stringid.TruncateID(hexID(o.ID))
}

func (o ObjectID) LongID() string {
	return hexID(o.ID)
}

func (o ObjectID) String() string {
	return o.ShortID()
}

// CheckpointID formats a checkpoint's display name and backing object
// id together, since a checkpoint is identified by both a human name
// and an object.ID in the time-travel audit trail.
type CheckpointID struct {
	Name string
	ID   uint64
}

func (c CheckpointID) String() string {
	return fmt.Sprintf("%s@%s", c.Name, ObjectID{ID: c.ID}.ShortID())
}

// RecordingID formats a recording session's id for trace file names and
// log lines.
type RecordingID struct {
	ID uint64
}

func (r RecordingID) String() string {
	return "rec-" + ObjectID{ID: r.ID}.ShortID()
}
