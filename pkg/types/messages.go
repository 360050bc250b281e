package types

// Client -> Server
// join:
//   roomCode: string (6 chars, A-Z0-9)
//   displayName: string
//   claimOwner: boolean
//
// chat:
//   message: string
//
// update-options (owner):
//   options: Option[]
//
// spin-start (owner, no spin pending):
//   visualHints: { rotation: number, durationMs: number }
//   clientSeed: string (optional, hashed when >= 8 chars)
//
// spin-result (owner, spin pending):
//   selectedLabel: string
//
// typing:
//   active: boolean
//
// leave: {}

const (
	EvtJoin          = "join"
	EvtChat          = "chat"
	EvtUpdateOptions = "update-options"
	EvtSpinStart     = "spin-start"
	EvtSpinResult    = "spin-result"
	EvtTyping        = "typing"
	EvtLeave         = "leave"
)

// Server -> Client
const (
	EvtJoined            = "joined"
	EvtParticipantJoined = "participant-joined"
	EvtParticipantLeft   = "participant-left"
	EvtChatReceived      = "chat-received"
	EvtOptionsUpdated    = "options-updated"
	EvtSpinStarted       = "spin-started"
	EvtSpinFinished      = "spin-finished"
	EvtRoomClosed        = "room-closed"
	EvtActionRejected    = "action-rejected"
)

type Option struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Color  string  `json:"color"`
	Weight float64 `json:"weight"`
}

type VisualHints struct {
	Rotation   float64 `json:"rotation"`
	DurationMs int     `json:"durationMs"`
}

type JoinRequest struct {
	RoomCode    string `json:"roomCode"`
	DisplayName string `json:"displayName"`
	ClaimOwner  bool   `json:"claimOwner"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type UpdateOptionsRequest struct {
	Options []Option `json:"options"`
}

type SpinStartRequest struct {
	VisualHints VisualHints `json:"visualHints"`
	ClientSeed  string      `json:"clientSeed,omitempty"`
}

type SpinResultRequest struct {
	SelectedLabel string `json:"selectedLabel"`
}

type TypingRequest struct {
	Active bool `json:"active"`
}
