package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/trustcore"
)

func TestEveryCounterIsExported(t *testing.T) {
	// MetricVerifyLatency is the last id and the only histogram.
	if len(CounterDefs) != int(trustcore.MetricVerifyLatency) {
		t.Fatalf("got %d counter defs, want %d", len(CounterDefs), trustcore.MetricVerifyLatency)
	}

	seenIDs := make(map[trustcore.MetricID]bool)
	seenNames := make(map[string]bool)
	for _, def := range CounterDefs {
		if seenIDs[def.ID] || seenNames[def.Name] {
			t.Fatalf("duplicate definition %+v", def)
		}
		seenIDs[def.ID] = true
		seenNames[def.Name] = true
		if !strings.HasPrefix(def.Name, "trustcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(HistogramBounds) != len(HistogramBoundSuffix) {
		t.Fatalf("bounds and suffixes differ in length")
	}
}
