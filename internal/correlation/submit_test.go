package correlation

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
)

func requestedAck(ids ...string) Acknowledgment {
	ack := Acknowledgment{Reference: "0xfeed"}
	ack.Records = append(ack.Records, AckRecord{Kind: "Transfer", Attributes: map[string]string{"requestId": "ignored"}})
	for _, id := range ids {
		ack.Records = append(ack.Records, AckRecord{Kind: DefaultAckKind, Attributes: map[string]string{DefaultAckIDAttribute: id}})
	}
	return ack
}

func TestSubmitExtractsCorrelationID(t *testing.T) {
	var sent Params
	client := NewSubmissionClient(TransportFunc(func(_ context.Context, params Params) (Acknowledgment, error) {
		sent = params
		return requestedAck("r1"), nil
	}), SubmissionConfig{Required: []string{"numWords"}})

	id, err := client.Submit(context.Background(), Params{"numWords": "4"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "r1" {
		t.Fatalf("id = %q, want %q", id, "r1")
	}
	if sent["numWords"] != "4" {
		t.Fatalf("sent params = %v, want numWords=4", sent)
	}
}

func TestSubmitMalformedAcknowledgment(t *testing.T) {
	cases := []struct {
		name string
		ack  Acknowledgment
	}{
		{name: "no records", ack: Acknowledgment{}},
		{name: "no matching kind", ack: requestedAck()},
		{name: "two matching records", ack: requestedAck("r1", "r2")},
		{name: "blank id", ack: requestedAck(" ")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := NewSubmissionClient(TransportFunc(func(context.Context, Params) (Acknowledgment, error) {
				return tc.ack, nil
			}), SubmissionConfig{})

			_, err := client.Submit(context.Background(), Params{"numWords": "4"})
			if !errors.Is(err, ErrMalformedAcknowledgment) {
				t.Fatalf("err = %v, want ErrMalformedAcknowledgment", err)
			}
			if errors.Is(err, ErrSubmissionFailed) {
				t.Fatal("malformed acknowledgment must not be reported as a transport failure")
			}
		})
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	cause := errors.New("connection reset")
	client := NewSubmissionClient(TransportFunc(func(context.Context, Params) (Acknowledgment, error) {
		return Acknowledgment{}, cause
	}), SubmissionConfig{})

	_, err := client.Submit(context.Background(), Params{"numWords": "4"})
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want cause in chain", err)
	}
}

func TestSubmitValidatesPresenceOnly(t *testing.T) {
	calls := 0
	client := NewSubmissionClient(TransportFunc(func(context.Context, Params) (Acknowledgment, error) {
		calls++
		return requestedAck("r1"), nil
	}), SubmissionConfig{Required: []string{"numWords", "callbackGasLimit"}})

	_, err := client.Submit(context.Background(), Params{"numWords": "4", "callbackGasLimit": ""})
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeMissingParameter, "")) {
		t.Fatalf("err = %v, want missing parameter cause", err)
	}
	if !strings.Contains(err.Error(), "callbackGasLimit") {
		t.Fatalf("err = %q, want missing key named", err.Error())
	}

	if _, err := client.Submit(context.Background(), nil); !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("nil params err = %v, want ErrSubmissionFailed", err)
	}
	if calls != 0 {
		t.Fatalf("transport calls = %d, want 0", calls)
	}

	// Values are passed through untouched; business rules belong to the service.
	if _, err := client.Submit(context.Background(), Params{"numWords": "-1", "callbackGasLimit": "x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSubmitCustomAckShape(t *testing.T) {
	client := NewSubmissionClient(TransportFunc(func(context.Context, Params) (Acknowledgment, error) {
		return Acknowledgment{Records: []AckRecord{{Kind: "JobQueued", Attributes: map[string]string{"jobId": "j-9"}}}}, nil
	}), SubmissionConfig{AckKind: "JobQueued", IDAttribute: "jobId"})

	id, err := client.Submit(context.Background(), Params{"k": "v"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "j-9" {
		t.Fatalf("id = %q, want %q", id, "j-9")
	}
}

func TestSubmitWithoutTransport(t *testing.T) {
	var client *SubmissionClient
	if _, err := client.Submit(context.Background(), Params{"k": "v"}); !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
}
