package reqid

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestFromRequest_EchoesExistingHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(Header, "caller-supplied-id")
	if got := FromRequest(r); got != "caller-supplied-id" {
		t.Fatalf("got %q, want echoed id", got)
	}
}

func TestFromRequest_MintsUUIDWhenAbsent(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	got := FromRequest(r)
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("want a valid UUID, got %q: %v", got, err)
	}
}
