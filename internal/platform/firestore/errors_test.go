package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesOrderStoreFailures(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "missing order", err: status.Error(codes.NotFound, "no document"), notFound: true},
		{name: "lost transaction race", err: status.Error(codes.Aborted, "contention"), conflict: true},
		{name: "update precondition", err: status.Error(codes.FailedPrecondition, "update time"), conflict: true},
		{name: "backend outage", err: status.Error(codes.Unavailable, "down"), unavailable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var repoErr *Error
			if !errors.As(WrapError("orders.update", tc.err), &repoErr) {
				t.Fatalf("expected *Error, got %T", WrapError("orders.update", tc.err))
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification %+v", repoErr)
			}
		})
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("orders.get", status.Error(codes.Canceled, "client gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("orders.get", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestGuardErrorsKeepOperation(t *testing.T) {
	err := NewConflictError("orders.update", errors.New("status changed"))
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err.Error() != "orders.update: status changed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if wrapped := WrapError("orders.list", err); wrapped.Error() != "orders.update: status changed" {
		t.Fatalf("wrapping must keep the original op, got %q", wrapped.Error())
	}
	if !NewNotFoundError("orders.findByRefundId", errors.New("missing")).(*Error).IsNotFound() {
		t.Fatal("expected not found")
	}
}
