package fairness

import "time"

// Outcome is a fixed spin result before it is attributed to a room.
type Outcome struct {
	ServerSeed string
	ClientSeed string
	Nonce      uint64
	Result
	OptionID string
}

// Spin derives the result for one (serverSeed, clientSeed, nonce) tuple and
// maps it onto the weighted options.
func Spin(serverSeed, clientSeed string, nonce uint64, options []Weighted) (Outcome, error) {
	res := ComputeResult(serverSeed, clientSeed, nonce)
	id, err := SelectOption(res.ResultValue, options)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		ServerSeed: serverSeed,
		ClientSeed: clientSeed,
		Nonce:      nonce,
		Result:     res,
		OptionID:   id,
	}, nil
}

// SpinRecord is the finalized, immutable record handed to persistence.
type SpinRecord struct {
	ID           string
	RoomCode     string
	WheelID      string
	Spinner      string
	ServerSeed   string
	ClientSeed   string
	Nonce        uint64
	CombinedHash string
	ResultValue  float64
	OptionID     string
	OptionLabel  string
	CreatedAt    time.Time
}

func (r SpinRecord) Verify() bool {
	return Verify(r.ServerSeed, r.ClientSeed, r.Nonce, r.CombinedHash, r.ResultValue)
}
