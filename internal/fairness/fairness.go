package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
)

var ErrNoOptions = errors.New("no options to select from")
var ErrInvalidWeights = errors.New("option weights must be positive with a finite sum")

// SeedBytes is the size of a generated seed before hex encoding (256 bits).
const SeedBytes = 32

// MinClientSeedInput is the shortest user input that is hashed into a client
// seed instead of being replaced by a random one.
const MinClientSeedInput = 8

// VerifyTolerance absorbs float representation differences when a result
// value has been round-tripped through JSON or a database column.
const VerifyTolerance = 1e-6

type Result struct {
	CombinedHash string
	ResultValue  float64
}

type Weighted struct {
	ID     string
	Weight float64
}

// GenerateSeed returns 256 bits from the system CSPRNG, hex encoded.
func GenerateSeed() (string, error) {
	b := make([]byte, SeedBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DeriveClientSeed hashes user input of at least MinClientSeedInput bytes so
// the seed is always a fixed-length digest. Shorter input is ignored and a
// random seed is generated.
func DeriveClientSeed(input string) (string, error) {
	if len(input) >= MinClientSeedInput {
		return sha256Hex(input), nil
	}
	return GenerateSeed()
}

// Commit is the publishable commitment to a server seed.
func Commit(serverSeed string) string {
	return sha256Hex(serverSeed)
}

func ComputeResult(serverSeed, clientSeed string, nonce uint64) Result {
	sum := sha256.Sum256([]byte(serverSeed + ":" + clientSeed + ":" + strconv.FormatUint(nonce, 10)))
	head := binary.BigEndian.Uint32(sum[:4])
	return Result{
		CombinedHash: hex.EncodeToString(sum[:]),
		ResultValue:  float64(head) / float64(math.MaxUint32),
	}
}

// SelectOption walks the cumulative normalized weights in the given order and
// returns the first option whose threshold reaches value. Rounding can leave
// the final threshold just under 1.0, in which case the last option wins.
func SelectOption(value float64, options []Weighted) (string, error) {
	if len(options) == 0 {
		return "", ErrNoOptions
	}

	total := 0.0
	for _, o := range options {
		if !(o.Weight > 0) || math.IsInf(o.Weight, 0) {
			return "", ErrInvalidWeights
		}
		total += o.Weight
	}
	if math.IsInf(total, 0) {
		return "", ErrInvalidWeights
	}

	cumulative := 0.0
	for _, o := range options {
		cumulative += o.Weight / total
		if value <= cumulative {
			return o.ID, nil
		}
	}
	return options[len(options)-1].ID, nil
}

func Verify(serverSeed, clientSeed string, nonce uint64, claimedHash string, claimedValue float64) bool {
	r := ComputeResult(serverSeed, clientSeed, nonce)
	return r.CombinedHash == claimedHash && math.Abs(r.ResultValue-claimedValue) < VerifyTolerance
}

// Probability is the chance, in percent, that an option of the given weight
// is selected on a wheel whose weights sum to total.
func Probability(weight, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return weight / total * 100
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
