package opcode

import "testing"

func TestLDAImmediate(t *testing.T) {
	e := ByMnemonic["LDA"]
	if !e.Has(IMM) {
		t.Fatal("expected LDA IMM")
	}
	if e.Opcode(IMM) != 0xA9 {
		t.Errorf("expected 0xA9, got 0x%02X", e.Opcode(IMM))
	}
}

func TestADCZpIndirectIsCMOSOnly(t *testing.T) {
	e := ByMnemonic["ADC"]
	if !e.Has(IND) {
		t.Fatal("expected ADC IND present")
	}
	if e.RequiredCPU(IND) != 1 {
		t.Errorf("expected ADC (zp) to require CPU 1, got %d", e.RequiredCPU(IND))
	}
	if e.Opcode(IND) != 0x72 {
		t.Errorf("expected opcode 0x72, got 0x%02X", e.Opcode(IND))
	}
}

func TestBRAIsCMOSOnlyMnemonic(t *testing.T) {
	e := ByMnemonic["BRA"]
	if e.BaseCPU != 1 {
		t.Errorf("expected BRA base CPU 1, got %d", e.BaseCPU)
	}
	if e.Opcode(REL) != 0x80 {
		t.Errorf("expected opcode 0x80, got 0x%02X", e.Opcode(REL))
	}
}

func TestJMPIndirectModes(t *testing.T) {
	e := ByMnemonic["JMP"]
	if e.Opcode(IND16) != 0x6C {
		t.Errorf("expected JMP (abs) = 0x6C, got 0x%02X", e.Opcode(IND16))
	}
	if e.Opcode(IND16X) != 0x7C || e.RequiredCPU(IND16X) != 1 {
		t.Errorf("expected JMP (abs,X) = 0x7C requiring CPU 1")
	}
}

func TestGetCyclesFixed(t *testing.T) {
	if got := GetCycles(0xA9, 0x00); got != "2" {
		t.Errorf("expected 2, got %s", got)
	}
}

func TestGetCyclesPageCrossingConditional(t *testing.T) {
	if got := GetCycles(0xBD, 0x01); got != "4/5" {
		t.Errorf("expected 4/5, got %s", got)
	}
	if got := GetCycles(0xBD, 0x00); got != "4" {
		t.Errorf("expected short form 4 when low byte is zero, got %s", got)
	}
}

func TestGetBranchCycles(t *testing.T) {
	if got := GetBranchCycles(0x1000, 0x1000); got != "2/3" {
		t.Errorf("expected 2/3 for same-page branch, got %s", got)
	}
	if got := GetBranchCycles(0x10F0, 0x1110); got != "2/4" {
		t.Errorf("expected 2/4 for cross-page branch, got %s", got)
	}
}

func TestEveryMnemonicHasAtLeastOneMode(t *testing.T) {
	for _, e := range Table {
		found := false
		for m := Mode(0); int(m) < int(modeCount); m++ {
			if e.Has(m) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("mnemonic %s has no addressing modes", e.Mnemonic)
		}
	}
}
