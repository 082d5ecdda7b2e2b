package worldtest

import (
	"testing"

	"freightline.ai/internal/protocol"
	world "freightline.ai/internal/sim/world"
)

func TestDeterminism_FixedCommandsSameDigest(t *testing.T) {
	cats := WriteCatalogs(t)
	cfg := DefaultConfig("lockstep")
	cfg.Tune.DayTicks = 10 // several production and aging boundaries in-run

	w1, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world1: %v", err)
	}
	w2, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world2: %v", err)
	}

	join := func(w *world.World, name string) string {
		resp := make(chan world.JoinResponse, 1)
		_, _ = w.StepOnce([]world.JoinRequest{{Name: name, Resp: resp}}, nil, nil)
		r := <-resp
		return r.Welcome.OperatorID
	}

	o1 := join(w1, "dispatcher")
	o2 := join(w2, "dispatcher")
	if o1 != o2 {
		t.Fatalf("operator id mismatch: %s vs %s", o1, o2)
	}

	script := func(tick uint64) []protocol.CommandReq {
		switch tick {
		case 1:
			return []protocol.CommandReq{
				{ID: "C1", Type: "CREATE_STATION", Name: "Mine Yard", Tile: 10 | 10<<16},
				{ID: "C2", Type: "CREATE_STATION", Name: "Power Plant", Tile: 30 | 10<<16},
				{ID: "C3", Type: "CREATE_INDUSTRY", Industry: "COAL_MINE", Station: 1},
			}
		case 2:
			accept := true
			return []protocol.CommandReq{
				{ID: "C4", Type: "SET_ACCEPT", Station: 2, Cargo: "COAL", Accept: &accept},
				{ID: "C5", Type: "CREATE_VEHICLE", VehicleType: "COAL_TRAIN", Station: 1},
			}
		case 3:
			return []protocol.CommandReq{
				{ID: "C6", Type: "SET_ORDERS", VehicleID: 1, Orders: []protocol.OrderReq{
					{Station: 1},
					{Station: 2, Flags: []string{"UNLOAD"}},
				}},
			}
		}
		return nil
	}

	startTick := w1.CurrentTick()
	for i := uint64(0); i < 60; i++ {
		wantTick := startTick + i
		var acts1, acts2 []world.ActionEnvelope
		if cmds := script(wantTick); cmds != nil {
			act := protocol.ActMsg{
				Type:            protocol.TypeAct,
				ProtocolVersion: protocol.Version,
				Tick:            wantTick,
				Commands:        cmds,
			}
			acts1 = append(acts1, world.ActionEnvelope{OperatorID: o1, Act: act})
			acts2 = append(acts2, world.ActionEnvelope{OperatorID: o2, Act: act})
		}

		t1, d1 := w1.StepOnce(nil, nil, acts1)
		t2, d2 := w2.StepOnce(nil, nil, acts2)
		if t1 != wantTick || t2 != wantTick {
			t.Fatalf("tick mismatch: got w1=%d w2=%d want %d", t1, t2, wantTick)
		}
		if d1 != d2 {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", wantTick, d1, d2)
		}
	}
}
