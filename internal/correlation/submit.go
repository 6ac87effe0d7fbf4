package correlation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/vrfrelay/internal/platform/errors"
)

const (
	// DefaultAckKind is the acknowledgment record kind announcing a request.
	DefaultAckKind = "RandomWordsRequested"
	// DefaultAckIDAttribute is the attribute of DefaultAckKind holding the ID.
	DefaultAckIDAttribute = "requestId"
)

// Params are the domain-specific request parameters passed through to the
// external service.
type Params map[string]string

// AckRecord is one structured output record of an acknowledgment.
type AckRecord struct {
	Kind       string
	Attributes map[string]string
}

// Acknowledgment is the external service's receipt for a submission.
type Acknowledgment struct {
	// Reference identifies the submission on the service side (for example a
	// transaction hash). It is informational only.
	Reference string
	Records   []AckRecord
}

// Transport carries a submission to the external service and blocks until
// the service acknowledges receipt.
type Transport interface {
	Send(ctx context.Context, params Params) (Acknowledgment, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, params Params) (Acknowledgment, error)

// Send implements Transport for TransportFunc.
func (fn TransportFunc) Send(ctx context.Context, params Params) (Acknowledgment, error) {
	return fn(ctx, params)
}

// Submitter submits a request and returns its correlation ID.
type Submitter interface {
	Submit(ctx context.Context, params Params) (ID, error)
}

// SubmissionConfig controls acknowledgment parsing and parameter checks.
type SubmissionConfig struct {
	// AckKind is the record kind carrying the correlation ID.
	AckKind string
	// IDAttribute is the attribute of the AckKind record holding the ID.
	IDAttribute string
	// Required lists parameters that must be present and non-blank.
	Required []string
	// Logf receives submission log lines; nil is silent.
	Logf func(string, ...any)
}

func (c SubmissionConfig) normalized() SubmissionConfig {
	if strings.TrimSpace(c.AckKind) == "" {
		c.AckKind = DefaultAckKind
	}
	if strings.TrimSpace(c.IDAttribute) == "" {
		c.IDAttribute = DefaultAckIDAttribute
	}
	return c
}

// SubmissionClient sends requests through a Transport and extracts the
// correlation ID from each acknowledgment.
type SubmissionClient struct {
	transport Transport
	cfg       SubmissionConfig
}

// NewSubmissionClient builds a SubmissionClient.
func NewSubmissionClient(transport Transport, cfg SubmissionConfig) *SubmissionClient {
	return &SubmissionClient{transport: transport, cfg: cfg.normalized()}
}

// Submit sends params and returns the correlation ID assigned by the service.
// It returns once the service acknowledges receipt, not once the request is
// fulfilled.
func (c *SubmissionClient) Submit(ctx context.Context, params Params) (ID, error) {
	if c == nil || c.transport == nil {
		return "", apperrors.New(apperrors.CodeSubmissionFailed, "submission transport is not configured")
	}
	if err := c.checkParams(params); err != nil {
		return "", err
	}

	ack, err := c.transport.Send(ctx, params)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSubmissionFailed, fmt.Sprintf("send request: %v", err), err)
	}
	id, err := ExtractID(ack, c.cfg.AckKind, c.cfg.IDAttribute)
	if err != nil {
		return "", err
	}
	if c.cfg.Logf != nil {
		c.cfg.Logf("request %s acknowledged (ref %s)", id, ack.Reference)
	}
	return id, nil
}

func (c *SubmissionClient) checkParams(params Params) error {
	if len(params) == 0 {
		return apperrors.Wrap(apperrors.CodeSubmissionFailed, "request parameters are required",
			apperrors.New(apperrors.CodeMissingParameter, "no parameters"))
	}
	var missing []string
	for _, key := range c.cfg.Required {
		if strings.TrimSpace(params[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		joined := strings.Join(missing, ", ")
		return apperrors.Wrap(apperrors.CodeSubmissionFailed, "missing request parameters: "+joined,
			apperrors.WithMetadata(apperrors.CodeMissingParameter, "missing "+joined, map[string]string{"Parameters": joined}))
	}
	return nil
}

// ExtractID returns the ID attribute of the single record of kind in ack.
// Zero or several records of that kind, or a blank ID, is a malformed
// acknowledgment.
func ExtractID(ack Acknowledgment, kind, attribute string) (ID, error) {
	var found *AckRecord
	count := 0
	for i := range ack.Records {
		if ack.Records[i].Kind != kind {
			continue
		}
		count++
		found = &ack.Records[i]
	}
	if count != 1 {
		return "", apperrors.WithMetadata(apperrors.CodeMalformedAcknowledgment,
			fmt.Sprintf("acknowledgment has %d %s records, want 1", count, kind),
			map[string]string{"Kind": kind, "Reference": ack.Reference})
	}
	raw := strings.TrimSpace(found.Attributes[attribute])
	if raw == "" {
		return "", apperrors.WithMetadata(apperrors.CodeMalformedAcknowledgment,
			fmt.Sprintf("%s record has no %s", kind, attribute),
			map[string]string{"Kind": kind, "Reference": ack.Reference})
	}
	return ID(raw), nil
}

var _ Submitter = (*SubmissionClient)(nil)
