package roles

import "testing"

func TestDistribution(t *testing.T) {
	cases := []struct {
		n                               int
		mafia, detective, doctor, town int
	}{
		{3, 1, 1, 0, 1},
		{4, 1, 1, 1, 1},
		{5, 1, 1, 1, 2},
		{6, 2, 1, 1, 2},
		{9, 3, 1, 1, 4},
		{12, 4, 1, 1, 6},
	}
	for _, c := range cases {
		d := Distribution(c.n)
		if d[Mafia] != c.mafia || d[Detective] != c.detective || d[Doctor] != c.doctor || d[Townsperson] != c.town {
			t.Errorf("Distribution(%d) = %v", c.n, d)
		}
		total := 0
		for _, n := range d {
			total += n
		}
		if total != c.n {
			t.Errorf("Distribution(%d) sums to %d", c.n, total)
		}
	}
}

func TestFlattenOrder(t *testing.T) {
	got := Flatten(Distribution(6))
	want := []ID{Mafia, Mafia, Detective, Doctor, Townsperson, Townsperson}
	if len(got) != len(want) {
		t.Fatalf("Flatten = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Flatten[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPriority(t *testing.T) {
	if Priority(ActionKill) >= Priority(ActionProtect) {
		t.Fatal("kill must resolve before protect")
	}
	if Priority(ActionProtect) >= Priority(ActionInvestigate) {
		t.Fatal("protect must resolve before investigate")
	}
	if Priority(ActionNone) != 0 {
		t.Fatal("NONE has no priority")
	}
}

func TestRegistryShape(t *testing.T) {
	for _, id := range []ID{Mafia, Detective, Doctor, Townsperson} {
		r, ok := Get(id)
		if !ok {
			t.Fatalf("missing role %s", id)
		}
		if r.ID != id {
			t.Fatalf("role %s has id %s", id, r.ID)
		}
	}
	if r := MustGet(Doctor); !r.Targets.AllowSelf {
		t.Fatal("doctor must be able to self-protect")
	}
	if r := MustGet(Mafia); r.Targets.Filter != FilterNonMafia {
		t.Fatal("mafia kill must exclude teammates")
	}
	if r := MustGet(Townsperson); r.Night != nil {
		t.Fatal("townsperson has no night action")
	}
	if _, ok := Get("jester"); ok {
		t.Fatal("unknown role resolved")
	}
}

func TestCanSpeak(t *testing.T) {
	cases := []struct {
		role    ID
		alive   bool
		channel string
		want    bool
	}{
		{Mafia, true, "nightMafia", true},
		{Detective, true, "nightMafia", false},
		{Mafia, false, "nightMafia", false},
		{Townsperson, true, "day", true},
		{Townsperson, false, "day", false},
		{Townsperson, false, "dead", true},
		{Townsperson, true, "dead", false},
		{Doctor, true, "lobby", true},
		{Doctor, true, "bogus", false},
	}
	for _, c := range cases {
		if got := CanSpeak(c.role, c.alive, c.channel); got != c.want {
			t.Errorf("CanSpeak(%s, alive=%v, %s) = %v", c.role, c.alive, c.channel, got)
		}
	}
}
