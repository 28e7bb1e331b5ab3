package session

import "testing"

func TestLedger_AppendAndSlice(t *testing.T) {
	l := NewLedger()
	l.Append([]float32{1, 2, 3})
	l.Append([]float32{4, 5})

	if l.Len() != 5 {
		t.Fatalf("Len = %d, want 5", l.Len())
	}
	got := l.Slice(3)
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("Slice(3) = %v, want [4 5]", got)
	}
}

func TestLedger_SliceIsACopy(t *testing.T) {
	l := NewLedger()
	l.Append([]float32{1, 2, 3})

	got := l.Slice(0)
	got[0] = 99
	if again := l.Slice(0); again[0] != 1 {
		t.Errorf("mutating a slice leaked into the ledger: %v", again)
	}
}

func TestLedger_SliceClampsOffset(t *testing.T) {
	l := NewLedger()
	l.Append([]float32{1, 2})

	if got := l.Slice(10); len(got) != 0 {
		t.Errorf("Slice(10) = %v, want empty", got)
	}
	if got := l.Slice(-1); len(got) != 2 {
		t.Errorf("Slice(-1) = %v, want full buffer", got)
	}
}

func TestLedger_Reset(t *testing.T) {
	l := NewLedger()
	l.Append(make([]float32, 100))
	l.Reset()
	if l.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", l.Len())
	}
}
