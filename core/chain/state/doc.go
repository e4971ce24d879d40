// Package state persists where each (chat, user) pair stands in its dialog:
// the current step and the content transferred from the previous one.
// Memory, SQL and Redis backends share the Store contract.
package state
