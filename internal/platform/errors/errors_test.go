package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeRequestTimedOut, "request timed out")
	err := Wrap(CodeRequestTimedOut, "request r1 timed out", fmt.Errorf("after 100ms"))

	if !stderrors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(err, New(CodeRequestCancelled, "cancelled")) {
		t.Fatal("expected different code not to match")
	}
}

func TestErrorIsThroughFmtWrap(t *testing.T) {
	sentinel := New(CodeSubmissionFailed, "submission failed")
	err := fmt.Errorf("start request: %w", Wrap(CodeSubmissionFailed, "send failed", stderrors.New("boom")))

	if !stderrors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to traverse fmt wrapping")
	}
	if got := CodeOf(err); got != CodeSubmissionFailed {
		t.Fatalf("code = %q, want %q", got, CodeSubmissionFailed)
	}
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(CodeSubscriptionUnavailable, "subscribe", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
}

func TestCodeOfUnknown(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("code = %q, want %q", got, CodeUnknown)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeMissingParameter, codes.InvalidArgument},
		{CodeInvalidParameter, codes.InvalidArgument},
		{CodeSubmissionFailed, codes.Unavailable},
		{CodeSubscriptionUnavailable, codes.Unavailable},
		{CodeRequestTimedOut, codes.DeadlineExceeded},
		{CodeRequestCancelled, codes.Canceled},
		{CodeDuplicateRegistration, codes.AlreadyExists},
		{CodeNotFound, codes.NotFound},
		{CodeMalformedAcknowledgment, codes.Internal},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("%s grpc code = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestGRPCStatusAttachesDetails(t *testing.T) {
	err := WithMetadata(CodeRequestTimedOut, "request r1 timed out", map[string]string{"RequestID": "r1"})

	st, ok := status.FromError(fmt.Errorf("await: %w", err))
	if !ok {
		t.Fatal("expected gRPC status")
	}
	if st.Code() != codes.DeadlineExceeded {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.DeadlineExceeded)
	}

	var (
		info    *errdetails.ErrorInfo
		request *errdetails.RequestInfo
	)
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.RequestInfo:
			request = d
		}
	}
	if info == nil {
		t.Fatal("expected ErrorInfo detail")
	}
	if info.GetReason() != string(CodeRequestTimedOut) || info.GetDomain() != Domain {
		t.Fatalf("info = %v, want reason %q in %q", info, CodeRequestTimedOut, Domain)
	}
	if request == nil || request.GetRequestId() != "r1" {
		t.Fatalf("request info = %v, want r1", request)
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(nil).Code(); got != codes.OK {
		t.Fatalf("nil status = %v, want OK", got)
	}
	if got := StatusOf(stderrors.New("plain")).Code(); got != codes.Unknown {
		t.Fatalf("plain status = %v, want Unknown", got)
	}

	st := StatusOf(fmt.Errorf("request 2: %w", New(CodeSubscriptionUnavailable, "feed down")))
	if st.Code() != codes.Unavailable {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.Unavailable)
	}
	if len(st.Details()) != 1 {
		t.Fatalf("details = %v, want ErrorInfo only", st.Details())
	}
}
