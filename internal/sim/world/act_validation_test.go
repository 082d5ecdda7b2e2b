package world

import (
	"testing"

	"freightline.ai/internal/protocol"
)

func TestAct_StaleTickRejected(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")
	stepTicks(w, 10)

	o := w.operators[id]
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            3, // far behind now (10)
		Commands:        []protocol.CommandReq{{ID: "C1", Type: "CREATE_STATION", Tile: uint32(tileAt(1, 1))}},
	}
	w.step(nil, nil, []ActionEnvelope{{OperatorID: id, Act: act}})

	res := lastEvent(o, "ACTION_RESULT")
	if res == nil {
		t.Fatalf("no ACTION_RESULT")
	}
	if res["ok"] != false || res["code"] != protocol.ErrStale {
		t.Fatalf("result = %v", res)
	}
	if len(w.stations) != 0 {
		t.Fatalf("stale act still created a station")
	}
}

func TestAct_TickWithinWindowAccepted(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")
	stepTicks(w, 10)

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            8, // now-2 is still acceptable
		Commands:        []protocol.CommandReq{{ID: "C1", Type: "CREATE_STATION", Tile: uint32(tileAt(1, 1))}},
	}
	w.step(nil, nil, []ActionEnvelope{{OperatorID: id, Act: act}})

	if len(w.stations) != 1 {
		t.Fatalf("act within window was not applied")
	}
}

func TestAct_FutureTickRejected(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")
	o := w.operators[id]

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            100,
		Commands:        []protocol.CommandReq{{ID: "C1", Type: "CREATE_STATION", Tile: uint32(tileAt(1, 1))}},
	}
	w.step(nil, nil, []ActionEnvelope{{OperatorID: id, Act: act}})

	res := lastEvent(o, "ACTION_RESULT")
	if res == nil || res["code"] != protocol.ErrStale {
		t.Fatalf("result = %v", res)
	}
}

func TestAct_RateLimitPerWindow(t *testing.T) {
	w := newTestWorld(t, "main")
	w.cfg.Tune.RateLimits.ActWindowTicks = 100
	w.cfg.Tune.RateLimits.ActMax = 5
	id := joinOp(t, w, "dispatch")
	o := w.operators[id]

	cmds := make([]protocol.CommandReq, 8)
	for i := range cmds {
		cmds[i] = protocol.CommandReq{ID: "C", Type: "SET_ACCEPT", Station: 999, Cargo: "COAL", Accept: boolPtr(true)}
	}
	stepAct(w, id, cmds...)

	limited := 0
	for _, re := range o.Retained {
		if re.Event["type"] == "ACTION_RESULT" && re.Event["code"] == protocol.ErrRateLimit {
			limited++
		}
	}
	if limited != 3 {
		t.Fatalf("rate limited %d commands, want 3", limited)
	}
}

func TestAct_UnknownCommandType(t *testing.T) {
	w := newTestWorld(t, "main")
	id := joinOp(t, w, "dispatch")
	o := w.operators[id]

	stepAct(w, id, protocol.CommandReq{ID: "C1", Type: "LAUNCH_ZEPPELIN"})

	res := lastEvent(o, "ACTION_RESULT")
	if res == nil || res["code"] != protocol.ErrBadRequest {
		t.Fatalf("result = %v", res)
	}
}

func TestAct_UnknownOperatorDropped(t *testing.T) {
	w := newTestWorld(t, "main")

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Commands:        []protocol.CommandReq{{ID: "C1", Type: "CREATE_STATION", Tile: uint32(tileAt(1, 1))}},
	}
	w.step(nil, nil, []ActionEnvelope{{OperatorID: "O99", Act: act}})

	if len(w.stations) != 0 {
		t.Fatalf("act from unknown operator was applied")
	}
}
