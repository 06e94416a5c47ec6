package token

import (
	"strings"
	"testing"
	"time"

	"github.com/nightcourt/mafiad/internal/types"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func issuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return i
}

func TestIssueAndVerify(t *testing.T) {
	i := issuer(t)
	raw, err := i.Issue("room-1", "p1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := i.Verify(raw, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if claims.RoomID != "room-1" || claims.PlayerID != "p1" || claims.SessionID != "sess-1" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsForeignRoom(t *testing.T) {
	i := issuer(t)
	raw, _ := i.Issue("room-1", "p1", "sess-1")
	if _, err := i.Verify(raw, "room-2"); types.AsGameError(err).Code != types.ErrUnauthorized {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	i := issuer(t)
	raw, _ := i.Issue("room-1", "p1", "sess-1")
	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + "xx." + parts[2]
	if _, err := i.Verify(tampered, "room-1"); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	i := issuer(t)
	raw, _ := i.Issue("room-1", "p1", "sess-1")

	other, _ := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"))
	if _, err := other.Verify(raw, "room-1"); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	i := issuer(t)
	raw, _ := i.Issue("room-1", "p1", "sess-1")

	i.now = func() time.Time { return time.Now().Add(Lifetime + time.Minute) }
	if _, err := i.Verify(raw, "room-1"); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestRefreshIfNeeded(t *testing.T) {
	i := issuer(t)
	raw, _ := i.Issue("room-1", "p1", "sess-1")
	claims, _ := i.Verify(raw, "room-1")

	// Fresh token: no reissue.
	refreshed, err := i.RefreshIfNeeded(claims)
	if err != nil || refreshed != "" {
		t.Fatalf("refresh of fresh token = %q, %v", refreshed, err)
	}

	// Inside the window: a new token comes back and verifies.
	i.now = func() time.Time { return time.Now().Add(Lifetime - 2*time.Minute) }
	refreshed, err = i.RefreshIfNeeded(claims)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed == "" {
		t.Fatal("no reissue inside the refresh window")
	}
	got, err := i.Verify(refreshed, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.PlayerID != "p1" || got.SessionID != "sess-1" {
		t.Fatalf("refreshed claims = %+v", got)
	}
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewIssuer([]byte("short")); err == nil {
		t.Fatal("short secret accepted")
	}
}
