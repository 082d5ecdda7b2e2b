package world

import (
	"strings"
	"testing"

	"freightline.ai/internal/protocol"
)

func TestJoin_WelcomeCarriesParamsAndCatalogs(t *testing.T) {
	w := newTestWorld(t, "main")

	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: "dispatch-alpha", Resp: resp})
	r := <-resp

	if r.Welcome.Type != protocol.TypeWelcome {
		t.Fatalf("welcome type = %q", r.Welcome.Type)
	}
	if r.Welcome.OperatorID != "O1" {
		t.Fatalf("operator id = %q, want O1", r.Welcome.OperatorID)
	}
	if !strings.HasPrefix(r.Welcome.ResumeToken, "resume_main_") {
		t.Fatalf("resume token = %q", r.Welcome.ResumeToken)
	}
	if r.Welcome.WorldParams.WorldID != "main" || r.Welcome.WorldParams.Seed != 42 {
		t.Fatalf("world params = %+v", r.Welcome.WorldParams)
	}
	if r.Welcome.Catalogs.CargoPalette.Count != 2 {
		t.Fatalf("cargo palette count = %d", r.Welcome.Catalogs.CargoPalette.Count)
	}

	if len(r.Catalogs) != 3 {
		t.Fatalf("catalog messages = %d, want 3", len(r.Catalogs))
	}
	names := map[string]bool{}
	for _, m := range r.Catalogs {
		if m.Type != protocol.TypeCatalog || m.Part != 1 || m.TotalParts != 1 {
			t.Fatalf("catalog message framing: %+v", m)
		}
		names[m.Name] = true
	}
	for _, want := range []string{"cargo_palette", "vehicle_palette", "industries"} {
		if !names[want] {
			t.Fatalf("missing catalog %q (got %v)", want, names)
		}
	}

	// A second join allocates the next id.
	if got := joinOp(t, w, "dispatch-beta"); got != "O2" {
		t.Fatalf("second operator id = %q, want O2", got)
	}
}

func TestAttach_RotatesTokenAndKeepsOperator(t *testing.T) {
	w := newTestWorld(t, "main")

	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: "dispatch", Resp: resp})
	first := <-resp

	out := make(chan []byte, 4)
	aresp := make(chan JoinResponse, 1)
	w.handleAttach(AttachRequest{ResumeToken: first.Welcome.ResumeToken, Out: out, Resp: aresp})
	second := <-aresp

	if second.Welcome.OperatorID != first.Welcome.OperatorID {
		t.Fatalf("attach resumed %q, want %q", second.Welcome.OperatorID, first.Welcome.OperatorID)
	}
	if second.Welcome.ResumeToken == first.Welcome.ResumeToken {
		t.Fatalf("resume token was not rotated")
	}
	if w.clients[first.Welcome.OperatorID] == nil {
		t.Fatalf("attach did not register the session")
	}

	// The old token is dead.
	aresp2 := make(chan JoinResponse, 1)
	w.handleAttach(AttachRequest{ResumeToken: first.Welcome.ResumeToken, Out: out, Resp: aresp2})
	if r := <-aresp2; r.Welcome.OperatorID != "" {
		t.Fatalf("stale token attached as %q", r.Welcome.OperatorID)
	}
}

func TestAttach_UnknownTokenRejected(t *testing.T) {
	w := newTestWorld(t, "main")
	joinOp(t, w, "dispatch")

	resp := make(chan JoinResponse, 1)
	w.handleAttach(AttachRequest{ResumeToken: "resume_main_bogus", Out: make(chan []byte, 1), Resp: resp})
	if r := <-resp; r.Welcome.OperatorID != "" {
		t.Fatalf("bogus token attached as %q", r.Welcome.OperatorID)
	}
}

func TestLeave_DropsSessionKeepsOperator(t *testing.T) {
	w := newTestWorld(t, "main")

	out := make(chan []byte, 4)
	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{Name: "dispatch", Out: out, Resp: resp})
	r := <-resp
	id := r.Welcome.OperatorID

	w.step(nil, []string{id}, nil)

	if w.clients[id] != nil {
		t.Fatalf("leave kept the session")
	}
	if w.operators[id] == nil {
		t.Fatalf("leave destroyed the operator")
	}
}
