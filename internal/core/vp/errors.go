package vp

import "errors"

// errAssignedToOtherPp indicates a vs.Run validation call found vp
// already bound to a different PP than the one requested; assignment
// on first use requires equality afterward.
var errAssignedToOtherPp = errors.New("vp: already assigned to a different pp")

// errMigrateWhileActive indicates vp.Migrate was called while the VP
// is the active VP on its current PP; migration is only valid for an
// inactive VP (it changes assignment, not live execution state).
var errMigrateWhileActive = errors.New("vp: cannot migrate an active vp")
