package cargo

import "testing"

func TestNewPacketDefaults(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(50, Source{Type: SourceIndustry, ID: 12}, 3, 4096)
	if p.Count() != 50 || p.DaysInTransit() != 0 || p.FeederShare() != 0 {
		t.Fatalf("fresh packet: count=%d days=%d share=%d", p.Count(), p.DaysInTransit(), p.FeederShare())
	}
	if p.SourceStation() != 3 || p.SourceTile() != 4096 {
		t.Fatalf("provenance not recorded")
	}
	if p.LoadedAt() != InvalidTile || p.NextStation() != InvalidStation {
		t.Fatalf("leg fields not initialized to their invalid values")
	}
}

func TestNewPacketRejectsBadCounts(t *testing.T) {
	pl := NewPool(4)
	for _, n := range []uint{0, MaxPacketCount + 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("count %d accepted", n)
				}
			}()
			pl.NewPacket(n, Source{}, InvalidStation, InvalidTile)
		}()
	}
}

func TestSplitMovesProportionalShare(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(80, Source{Type: SourceIndustry, ID: 1}, 5, 77)
	p.feederShare = 1000
	p.daysInTransit = 9
	p.loadedAt = 4242
	p.nextStation = 6

	np := p.Split(pl, 30)
	if np.Count() != 30 || p.Count() != 50 {
		t.Fatalf("counts after split: %d + %d, want 30 + 50", np.Count(), p.Count())
	}
	if np.FeederShare() != 375 || p.FeederShare() != 625 {
		t.Fatalf("share after split: %d + %d, want 375 + 625", np.FeederShare(), p.FeederShare())
	}
	if np.DaysInTransit() != 9 || np.SourceStation() != 5 || np.SourceTile() != 77 {
		t.Fatalf("split did not copy provenance")
	}
	if np.LoadedAt() != 4242 || np.NextStation() != 6 {
		t.Fatalf("split did not copy leg fields")
	}
	if !mergable(p, np) {
		t.Fatalf("split halves should remain mergable")
	}
}

func TestMergeWeightsTransitAge(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(10, Source{Type: SourceIndustry, ID: 1}, 1, 1)
	q := pl.NewPacket(30, Source{Type: SourceIndustry, ID: 1}, 1, 1)
	p.daysInTransit = 4
	q.daysInTransit = 8
	p.feederShare = 100
	q.feederShare = 11

	p.Merge(q)
	if p.Count() != 40 {
		t.Fatalf("merged count = %d, want 40", p.Count())
	}
	if p.DaysInTransit() != 7 {
		t.Fatalf("merged age = %d, want count-weighted 7", p.DaysInTransit())
	}
	if p.FeederShare() != 111 {
		t.Fatalf("merged share = %d, want 111", p.FeederShare())
	}
}

func TestTryMergeRespectsCapacity(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(65000, Source{Type: SourceIndustry, ID: 1}, 1, 1)
	q := pl.NewPacket(1000, Source{Type: SourceIndustry, ID: 1}, 1, 1)
	if p.TryMerge(q) {
		t.Fatalf("merge past MaxPacketCount accepted")
	}
	if p.Count() != 65000 || q.Count() != 1000 {
		t.Fatalf("failed merge mutated packets: %d, %d", p.Count(), q.Count())
	}
}

func TestReduceDropsProportionalShare(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(100, Source{Type: SourceIndustry, ID: 1}, 1, 1)
	p.feederShare = 999
	p.Reduce(40)
	if p.Count() != 60 {
		t.Fatalf("count after reduce = %d, want 60", p.Count())
	}
	if p.FeederShare() != 600 {
		t.Fatalf("share after reduce = %d, want 600", p.FeederShare())
	}
}

func TestMergableKey(t *testing.T) {
	pl := NewPool(16)
	mk := func() *Packet { return pl.NewPacket(10, Source{Type: SourceIndustry, ID: 4}, 2, 99) }
	p := mk()

	if q := mk(); !mergable(p, q) {
		t.Errorf("identical packets not mergable")
	}

	age := mk()
	age.daysInTransit = 1
	if mergable(p, age) {
		t.Errorf("different transit age considered mergable")
	}

	if q := pl.NewPacket(10, Source{Type: SourceIndustry, ID: 4}, 6, 99); mergable(p, q) {
		t.Errorf("different first pickup considered mergable")
	}

	if q := pl.NewPacket(10, Source{Type: SourceTown, ID: 4}, 2, 99); mergable(p, q) {
		t.Errorf("different source considered mergable")
	}
}

func TestFeederShareForRoundsDown(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(3, Source{}, InvalidStation, InvalidTile)
	p.feederShare = 10
	if got := p.FeederShareFor(1); got != 3 {
		t.Fatalf("share for 1 of 3 units = %d, want 3", got)
	}
	if got := p.FeederShareFor(3); got != 10 {
		t.Fatalf("share for all units = %d, want 10", got)
	}
}

func TestPacketStateRoundTrip(t *testing.T) {
	pl := NewPool(4)
	p := pl.NewPacket(123, Source{Type: SourceTown, ID: 9}, 4, 1<<20)
	p.daysInTransit = 77
	p.feederShare = 4567
	p.loadedAt = 31337
	p.nextStation = 11

	q, err := pl.RestorePacket(p.State())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if q.State() != p.State() {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", q.State(), p.State())
	}

	if _, err := pl.RestorePacket(PacketState{}); err == nil {
		t.Fatalf("zero-count state accepted")
	}
}
