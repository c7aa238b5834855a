package replay

import "testing"

func TestWindow(t *testing.T) {
	w := NewWindow(10)
	check(t, w, 0, Accepted)
	check(t, w, 0, Duplicate)
	check(t, w, 1, Accepted)
	check(t, w, 1, Duplicate)
	check(t, w, 0, Duplicate)
	check(t, w, 3, Accepted)
	check(t, w, 2, Accepted)
	check(t, w, 2, Duplicate)
	check(t, w, 3, Duplicate)
	check(t, w, 15, Accepted) // jumps past the window, clears it
	check(t, w, 14, Accepted) // within window, not yet seen after the clear
	check(t, w, 5, TooOld)    // 15-5 = 10 >= size(10): outside the window
}

func TestWindowResetReinitialises(t *testing.T) {
	w := NewWindow(10)
	check(t, w, 5, Accepted)
	check(t, w, 100, Accepted)
	w.Reset()
	check(t, w, 0, Accepted)
	check(t, w, 1, Accepted)
}

func TestWindowNoDuplicatesAccepted(t *testing.T) {
	w := NewWindow(DefaultWindowSize)
	accepted := make(map[uint32]bool)
	seqs := []uint32{0, 1, 2, 1, 5, 4, 3, 2, 50, 49, 48, 200, 199, 198, 197, 196, 150}
	for _, s := range seqs {
		r := w.Check(s)
		if r == Accepted {
			if accepted[s] {
				t.Fatalf("sequence %d accepted twice", s)
			}
			accepted[s] = true
		}
	}
}

func check(t *testing.T, w *Window, seq uint32, want Result) {
	t.Helper()
	got := w.Check(seq)
	if got != want {
		t.Fatalf("Check(%d) = %s, want %s", seq, got, want)
	}
}
