package numbers

import (
	"encoding/json"
	"testing"
)

func TestCanonicalizeKeepsFirstFiveValid(t *testing.T) {
	raw := []any{"7", "a12b", 345, nil, "xx", 9.0, "00", "55", "66"}
	got := Canonicalize(raw, "seed")
	want := [Slots]string{"07", "12", "45", "09", "00"}
	if got != want {
		t.Fatalf("Canonicalize = %v, want %v", got, want)
	}
}

func TestCanonicalizeAlwaysFiveValidPairs(t *testing.T) {
	cases := map[string][]any{
		"empty":       nil,
		"nulls":       {nil, nil},
		"non-numeric": {"abc", "--", ""},
		"mixed types": {true, struct{}{}, []int{1}, json.Number("123456")},
		"long digits": {"9999999901"},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got := Canonicalize(raw, "res-1:0")
			for i, p := range got {
				if !Valid(p) {
					t.Fatalf("slot %d = %q is not a two-digit pair", i, p)
				}
			}
		})
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	raw := []any{"3", nil, "bad"}
	first := Canonicalize(raw, "reservation-42:1")
	for i := 0; i < 20; i++ {
		if got := Canonicalize(raw, "reservation-42:1"); got != first {
			t.Fatalf("run %d: %v != %v", i, got, first)
		}
	}
	if first[0] != "03" {
		t.Fatalf("first slot = %q, want 03", first[0])
	}
}

func TestFillerDependsOnSeedAndSlot(t *testing.T) {
	if Filler("a", 0) != Filler("a", 0) {
		t.Fatal("filler not stable")
	}
	distinct := map[string]bool{}
	for slot := 0; slot < Slots; slot++ {
		for _, seed := range []string{"a", "b", "c", "d"} {
			distinct[Filler(seed, slot)] = true
		}
	}
	if len(distinct) < 2 {
		t.Fatalf("filler produced a single value for every seed/slot: %v", distinct)
	}
}

func TestDistance(t *testing.T) {
	drawn := [Slots]string{"01", "02", "03", "04", "05"}
	tests := []struct {
		name   string
		ticket [Slots]string
		want   int
	}{
		{"exact", [Slots]string{"01", "02", "03", "04", "05"}, 0},
		{"reordered", [Slots]string{"05", "04", "03", "02", "01"}, 0},
		{"one off", [Slots]string{"01", "02", "03", "04", "07"}, 2},
		{"far", [Slots]string{"99", "98", "97", "96", "95"}, 470},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.ticket, drawn)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("Distance = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDistanceRejectsInvalidPair(t *testing.T) {
	if _, err := Distance([Slots]string{"1", "02", "03", "04", "05"}, [Slots]string{}); err == nil {
		t.Fatal("expected error for malformed pair")
	}
}
