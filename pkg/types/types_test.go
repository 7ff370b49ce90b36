package types

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBoxArea(t *testing.T) {
	box := Box{XMin: 5, YMin: 5, XMax: 20, YMax: 20}
	if got := box.Area(); got != 225 {
		t.Errorf("Expected area 225, got %f", got)
	}
}

func TestBoxNormalize(t *testing.T) {
	got := Box{XMin: 10, YMin: 20, XMax: 0, YMax: 5}.Normalize()
	want := Box{XMin: 0, YMin: 5, XMax: 10, YMax: 20}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestBoxClamp(t *testing.T) {
	got := Box{XMin: -4, YMin: 10, XMax: 140, YMax: 90}.Clamp(image.Rect(0, 0, 100, 50))
	want := Box{XMin: 0, YMin: 10, XMax: 100, YMax: 50}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Clamp mismatch (-want +got):\n%s", diff)
	}
}

func TestDecisionSetOrdering(t *testing.T) {
	ds := DecisionSet{
		"Croissant": NewLabelDecision(Detection{Label: "Croissant", Score: 0.4, Box: Box{XMax: 2, YMax: 2}}),
		"Banana":    NewLabelDecision(Detection{Label: "Banana", Score: 0.8, Box: Box{XMax: 10, YMax: 10}}),
	}

	if diff := cmp.Diff([]string{"Banana", "Croissant"}, ds.Labels()); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	dets := ds.Detections()
	if len(dets) != 2 || dets[0].Label != "Banana" {
		t.Fatalf("Expected Banana first, got %+v", dets)
	}
	if ds["Banana"].Area != 100 {
		t.Errorf("Expected area 100, got %f", ds["Banana"].Area)
	}
}
