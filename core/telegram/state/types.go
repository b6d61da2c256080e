package state

import tele "gopkg.in/telebot.v4"

// State identifies a finite-state-machine step used in conversations.
type State string

// StateIdle indicates there is no active conversation with the user.
const StateIdle State = "idle"

// Manager orchestrates per-user FSM state transitions.
type Manager interface {
	SetState(userID int64, st State)
	GetState(userID int64) State
	HasState(userID int64) bool
	ClearState(userID int64)
	Clear(userID int64)

	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}
