// Package domain holds the state of a single retro and the rules that change it.
//
// A retro is a flat set of id-keyed maps (lanes, cards, participants) plus the
// current phase. Mutations arrive as Command values and are handled in two
// steps: Decide validates a command against the current State without touching
// it and returns a Decision, and State.Apply folds an accepted Decision. A
// rejected command therefore never leaves partial state behind and never
// produces an event.
//
// Reads go through the projection helpers in view.go, which apply the card
// visibility rule for a given viewer.
package domain
