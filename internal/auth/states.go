package auth

import "contactbot/core/telegram/state"

// Login flow states, in order. sending_code is transient: it is entered
// automatically after a valid phone number, never by user input.
const (
	StateAwaitingAPIID   state.State = "awaiting_api_id"
	StateAwaitingAPIHash state.State = "awaiting_api_hash"
	StateAwaitingPhone   state.State = "awaiting_phone"
	StateSendingCode     state.State = "sending_code"
	StateAwaitingCode    state.State = "awaiting_code"
	StateAwaiting2FA     state.State = "awaiting_2fa_password"
	StateAuthenticated   state.State = "authenticated"
)

// All lists every flow state, used to register FSM handlers.
var All = []state.State{
	StateAwaitingAPIID,
	StateAwaitingAPIHash,
	StateAwaitingPhone,
	StateSendingCode,
	StateAwaitingCode,
	StateAwaiting2FA,
	StateAuthenticated,
}
