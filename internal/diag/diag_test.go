package diag

import "testing"

func TestWarnf(t *testing.T) {
	w := Warnf(Unresolved, "entry %d: %q", 3, "ret i32 %4")
	if w.Kind != Unresolved {
		t.Errorf("kind = %q", w.Kind)
	}
	want := `unresolved: entry 3: "ret i32 %4"`
	if got := w.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
