package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("book: %w", Capacity("only 1 seat left"))
	if got := KindOf(err); got != KindCapacityExceeded {
		t.Fatalf("expected CAPACITY_EXCEEDED, got %s", got)
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("plain errors must classify as internal")
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil has no kind")
	}
}

func TestUserMessageHidesInternals(t *testing.T) {
	err := Wrap(KindInternal, "db exploded", errors.New("pq: relation trips does not exist"))
	if got := UserMessage(err); got != defaultMessages[KindInternal] {
		t.Fatalf("internal detail leaked: %q", got)
	}
	if got := UserMessage(errors.New("stack trace here")); got != defaultMessages[KindInternal] {
		t.Fatalf("unclassified error leaked: %q", got)
	}
	if got := UserMessage(StateConflict("")); got != defaultMessages[KindStateConflict] {
		t.Fatalf("expected default message, got %q", got)
	}
	if got := UserMessage(Validation("rating must be 1-5")); got != "rating must be 1-5" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestFromHTTP(t *testing.T) {
	cases := []struct {
		status int
		code   string
		want   Kind
	}{
		{http.StatusConflict, "", KindStateConflict},
		{http.StatusBadRequest, "CAPACITY_EXCEEDED", KindCapacityExceeded},
		{http.StatusUnprocessableEntity, "", KindCapacityExceeded},
		{http.StatusUnauthorized, "", KindAuth},
		{http.StatusBadGateway, "", KindInternal},
		{http.StatusBadRequest, "USER_BLOCKED", KindValidation},
	}
	for _, c := range cases {
		if got := FromHTTP(c.status, c.code, "x").Kind; got != c.want {
			t.Fatalf("status=%d code=%q: expected %s, got %s", c.status, c.code, c.want, got)
		}
	}
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindValidation, KindAuth, KindForbidden, KindNotFound, KindStateConflict, KindCapacityExceeded} {
		if got := FromHTTP(HTTPStatus(k), "", "").Kind; got != k {
			t.Fatalf("kind %s did not survive the status mapping, got %s", k, got)
		}
	}
}
