package types

import "time"

// Joined is the full room snapshot sent only to the joining connection.
type Joined struct {
	RoomCode     string   `json:"roomCode"`
	Owner        string   `json:"owner"`
	Participants []string `json:"participants"`
	WheelOptions []Option `json:"wheelOptions"`
	WheelID      string   `json:"wheelId"`
	IsOwner      bool     `json:"isOwner"`
}

type ParticipantChange struct {
	DisplayName  string   `json:"displayName"`
	Participants []string `json:"participants"`
}

type ChatReceived struct {
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type OptionsUpdated struct {
	Options   []Option `json:"options"`
	UpdatedBy string   `json:"updatedBy"`
	WheelID   string   `json:"wheelId"`
}

// SpinStarted carries only what is needed to animate and to later check the
// reveal: the commitment to the server seed, never the outcome.
type SpinStarted struct {
	VisualHints VisualHints `json:"visualHints"`
	SpinnerName string      `json:"spinnerName"`
	Timestamp   time.Time   `json:"timestamp"`
	Commitment  string      `json:"commitment"`
	ClientSeed  string      `json:"clientSeed"`
	Nonce       uint64      `json:"nonce"`
}

type SpinProof struct {
	ServerSeed   string  `json:"serverSeed"`
	ClientSeed   string  `json:"clientSeed"`
	Nonce        uint64  `json:"nonce"`
	CombinedHash string  `json:"combinedHash"`
	ResultValue  float64 `json:"resultValue"`
}

type SpinFinished struct {
	SelectedLabel string    `json:"selectedLabel"`
	OptionID      string    `json:"optionId"`
	SpinnerName   string    `json:"spinnerName"`
	Timestamp     time.Time `json:"timestamp"`
	Proof         SpinProof `json:"proof"`
}

type Typing struct {
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}

type RoomClosed struct {
	Reason string `json:"reason"`
}

type ActionRejected struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
