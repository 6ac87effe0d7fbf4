// Package domain holds the randomness oracle's request rules and payloads.
package domain

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
)

// Acknowledgment and completion vocabulary shared with callers.
const (
	EventRandomWordsRequested = "RandomWordsRequested"
	EventRequestFulfilled     = "RequestFulfilled"

	AttrRequestID        = "requestId"
	AttrNumWords         = "numWords"
	AttrCallbackGasLimit = "callbackGasLimit"
)

// Limits enforced by the oracle on incoming requests.
const (
	MaxNumWords         = 500
	MinCallbackGasLimit = 21000
	MaxCallbackGasLimit = 2500000
)

// RandomWordsRequest is a validated request for random words.
type RandomWordsRequest struct {
	NumWords         int
	CallbackGasLimit int64
}

// ParseRandomWordsRequest validates raw request parameters. An absent or
// blank value is a missing parameter; a value that does not parse or is out
// of range is an invalid one.
func ParseRandomWordsRequest(params map[string]string) (RandomWordsRequest, error) {
	rawWords, err := requiredParam(params, AttrNumWords)
	if err != nil {
		return RandomWordsRequest{}, err
	}
	numWords, err := strconv.Atoi(rawWords)
	if err != nil {
		return RandomWordsRequest{}, invalidParam(AttrNumWords, rawWords, "numWords must be an integer", err)
	}
	if numWords <= 0 || numWords > MaxNumWords {
		return RandomWordsRequest{}, invalidParam(AttrNumWords, rawWords,
			fmt.Sprintf("numWords must be between 1 and %d", MaxNumWords), nil)
	}
	rawGas, err := requiredParam(params, AttrCallbackGasLimit)
	if err != nil {
		return RandomWordsRequest{}, err
	}
	gasLimit, err := strconv.ParseInt(rawGas, 10, 64)
	if err != nil {
		return RandomWordsRequest{}, invalidParam(AttrCallbackGasLimit, rawGas, "callbackGasLimit must be an integer", err)
	}
	if gasLimit < MinCallbackGasLimit || gasLimit > MaxCallbackGasLimit {
		return RandomWordsRequest{}, invalidParam(AttrCallbackGasLimit, rawGas,
			fmt.Sprintf("callbackGasLimit must be between %d and %d", MinCallbackGasLimit, MaxCallbackGasLimit), nil)
	}
	return RandomWordsRequest{NumWords: numWords, CallbackGasLimit: gasLimit}, nil
}

func requiredParam(params map[string]string, name string) (string, error) {
	value := strings.TrimSpace(params[name])
	if value == "" {
		return "", apperrors.WithMetadata(apperrors.CodeMissingParameter, name+" is required",
			map[string]string{"Parameter": name})
	}
	return value, nil
}

func invalidParam(name, value, message string, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeInvalidParameter, message,
		map[string]string{"Parameter": name, "Value": value}, cause)
}

// Params renders the request as submission parameters.
func (r RandomWordsRequest) Params() map[string]string {
	return map[string]string{
		AttrNumWords:         strconv.Itoa(r.NumWords),
		AttrCallbackGasLimit: strconv.FormatInt(r.CallbackGasLimit, 10),
	}
}

// NewRandomWords generates n random 64-bit words using crypto/rand.
func NewRandomWords(n int) ([]uint64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("word count must be positive")
	}
	buf := make([]byte, 8*n)
	if _, err := crand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random words: %w", err)
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return words, nil
}

// NewTxHash returns a random 32-byte reference in 0x-prefixed hex.
func NewTxHash() (string, error) {
	var b [32]byte
	if _, err := crand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read tx hash: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// Fulfillment is the payload of a RequestFulfilled record.
type Fulfillment struct {
	RequestID   string   `json:"requestId"`
	RandomWords []uint64 `json:"randomWords"`
}

// EncodeFulfillment serializes a fulfillment payload.
func EncodeFulfillment(f Fulfillment) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fulfillment: %w", err)
	}
	return data, nil
}

// DecodeFulfillment parses a fulfillment payload.
func DecodeFulfillment(data []byte) (Fulfillment, error) {
	var f Fulfillment
	if err := json.Unmarshal(data, &f); err != nil {
		return Fulfillment{}, fmt.Errorf("decode fulfillment: %w", err)
	}
	return f, nil
}
