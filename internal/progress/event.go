// Package progress defines the event structures emitted by the crawl cycle.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCycleStart  Stage = "CYCLE_START"
	StageCycleDone   Stage = "CYCLE_DONE"
	StageCycleError  Stage = "CYCLE_ERROR"
	StagePageDone    Stage = "PAGE_DONE"
	StagePageError   Stage = "PAGE_ERROR"
	StageInviteFound Stage = "INVITE_FOUND"
	StageLinkDropped Stage = "LINK_DROPPED"
)

// DropReason says which stage rejected a candidate link.
type DropReason string

// Reasons attached to StageLinkDropped events.
const (
	DropResolve DropReason = "resolve"
	DropVerify  DropReason = "verify"
)

// Event captures a single component of cycle progress.
type Event struct {
	// CycleID uniquely identifies a cycle using the 16-byte UUID form.
	CycleID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Page is the zero-based search result page for page events.
	Page int
	// Links counts the candidate links a page yielded.
	Links int64
	// Code is the invite code for invite events.
	Code string
	// Guild is the guild display name for invite events.
	Guild string
	// URL is the candidate or invite URL.
	URL string
	// Reason groups dropped links by the stage that rejected them.
	Reason DropReason
	// Entries carries the catalog size on cycle completion.
	Entries int64
	// Dur captures cycle runtime on completion.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CycleID == [16]byte{} {
		return errors.New("cycle id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleError:
	case StagePageDone, StagePageError:
		if e.Page < 0 {
			return errors.New("page must be >= 0")
		}
	case StageInviteFound:
		if e.Code == "" {
			return errors.New("invite found requires code")
		}
	case StageLinkDropped:
		if e.Reason == "" {
			return errors.New("link dropped requires reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CycleUUID converts the binary cycle ID to uuid.UUID for repositories.
func (e Event) CycleUUID() uuid.UUID {
	return uuid.UUID(e.CycleID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
