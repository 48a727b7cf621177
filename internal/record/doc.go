// Package record defines the record domain model and its status state
// machine.
//
// The transition table is the single authority on legal lifecycle moves;
// storage and API layers consult CanTransition rather than encoding their own
// rules. Soft delete remembers the prior status so undelete can restore it.
package record
