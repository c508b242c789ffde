package diag

import (
	"errors"
	"strings"
	"testing"
)

func TestBestEffortAccumulates(t *testing.T) {
	var d Diags
	if err := d.Add(0x10, KindStalePatchpoint, "call to 0x40"); err != nil {
		t.Fatalf("best effort returned %v", err)
	}
	if err := d.Addf(0x20, KindDanglingAssignment, "no variable at 0x%x", 0x900); err != nil {
		t.Fatalf("best effort returned %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
	if got := d.Items()[1].Msg; got != "no variable at 0x900" {
		t.Errorf("msg = %q", got)
	}
	if d.Count(KindStalePatchpoint) != 1 {
		t.Errorf("stale count = %d", d.Count(KindStalePatchpoint))
	}
}

func TestStrictReturnsError(t *testing.T) {
	d := Diags{Mode: ModeStrict}
	err := d.Add(0x30, KindInvalidPatchpoint, "push %rbp")
	if !errors.Is(err, ErrStrict) {
		t.Fatalf("err = %v, want ErrStrict", err)
	}
	if !strings.Contains(err.Error(), "invalid_patchpoint") {
		t.Errorf("error %q lacks kind", err)
	}
	if d.Len() != 1 {
		t.Errorf("strict mode should still record, len = %d", d.Len())
	}
}

func TestDiagString(t *testing.T) {
	s := Diag{Addr: 0xabc, Kind: KindNoBitsWrite, Msg: "x"}.String()
	if s != "[nobits_write] 0xabc: x" {
		t.Errorf("got %q", s)
	}
}
