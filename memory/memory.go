// Package memory implements the assembler's object-code memory model:
// a flat 64 KiB byte array paired with a parallel per-byte flag array,
// plus the dual program-counter / offset-counter addressing scheme
// used for offset assembly.
//
// Grounded on original_source/src/objectcode.cpp for the emit-policy
// ordering and flag semantics, and on beevik-go6502/memory.go for the
// flat-array, address-helper style this package follows.
package memory

import (
	"fmt"
	"io"
)

// Flag is a bit in the per-byte flag array F.
type Flag byte

const (
	// Used marks a byte written by any emit operation during the
	// current pass. After pass 2 it holds the final assembled value.
	Used Flag = 1 << iota
	// Guard marks a byte reserved by a GUARD directive; any emit
	// targeting it fails.
	Guard
	// Check marks an opcode byte whose value must match between
	// passes. Operand bytes are never marked Check.
	Check
	// DontCheck exempts a byte from Check comparison. Set by an
	// explicit CLEAR directive; survives the between-passes reset.
	DontCheck
)

const size = 0x10000

// SymbolSink receives P%/O% mirror updates as the put address moves.
// The assembly engine's symbol table satisfies this interface; memory
// itself never imports symtab; this keeps Memory free of the
// singleton coupling the original design had between ObjectCode and
// SymbolTable.
type SymbolSink interface {
	Change(name string, value float64) error
}

// Error reports an object-memory emit-policy failure: out of memory,
// inconsistent code between passes, guard hit, or overlap (spec
// §4.2's emit policy, checked in that exact order).
type Error struct {
	Addr   int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("object memory at $%04X: %s", e.Addr, e.Reason)
}

// Memory is one assembly job's 64 KiB object-code image.
type Memory struct {
	M [size]byte
	F [size]byte

	pc   int32
	opc  int32
	cpu  int
	opt  int
	pass int // 1 or 2

	mapChar [96]byte // ASCII 32..127 remap, mutated by MAPCHAR

	sink SymbolSink
}

// New returns a freshly constructed Memory, equivalent to calling
// InitialisePass once pass 1 begins.
func New(sink SymbolSink) *Memory {
	m := &Memory{sink: sink, opt: 3}
	m.InitialisePass(1)
	return m
}

// SetSecondPass flips pass-2 mode on or off; call before each pass.
func (m *Memory) SetSecondPass(second bool) {
	if second {
		m.pass = 2
	} else {
		m.pass = 1
	}
}

// IsSecondPass reports whether step 2 of the emit policy (pass-2
// consistency checking) is active.
func (m *Memory) IsSecondPass() bool { return m.pass == 2 }

// SetCPU sets the CPU level (0 = NMOS 6502, 1 = 65C02) and mirrors it
// into the CPU symbol.
func (m *Memory) SetCPU(level int) {
	m.cpu = level
	m.mirror("CPU", float64(level))
}

// CPU returns the current CPU level.
func (m *Memory) CPU() int { return m.cpu }

// SetOPT stores the OPT value. Bit 2 (value 4) toggles offset
// assembly mode.
func (m *Memory) SetOPT(opt int) { m.opt = opt }

// OPT returns the current OPT value.
func (m *Memory) OPT() int { return m.opt }

// OffsetMode reports whether OPT.bit2 (offset assembly) is set.
func (m *Memory) OffsetMode() bool { return m.opt&4 != 0 }

// PC returns the program counter P%.
func (m *Memory) PC() int32 { return m.pc }

// OPC returns the offset put counter O%.
func (m *Memory) OPC() int32 { return m.opc }

// SetPC sets P% directly (ORG / "P% = a").
func (m *Memory) SetPC(addr int32) {
	m.pc = addr
	m.mirror("P%", float64(addr))
}

// SetOPC sets O% directly ("O% = a"). Spec requires this to be
// rejected by the assembly engine when OffsetMode is false; Memory
// itself performs the assignment unconditionally, leaving that policy
// check to the caller, matching the layering spec §4.3 describes
// (directives forward to Object Memory once validated).
func (m *Memory) SetOPC(addr int32) {
	m.opc = addr
	m.mirror("O%", float64(addr))
}

func (m *Memory) mirror(name string, value float64) {
	if m.sink != nil {
		m.sink.Change(name, value)
	}
}

// InitialisePass resets CPU to 0, P% to 0, O% to -1 (unset), OPT to
// 3, clears memory flags (preserving nothing — pass==1 means a full
// reset), and resets the ASCII map to identity. Called once before
// pass 1; before pass 2 the caller instead calls ResetBetweenPasses.
func (m *Memory) InitialisePass(pass int) {
	m.SetCPU(0)
	m.SetPC(0)
	m.opc = -1
	m.mirror("O%", 0)
	m.SetOPT(3)
	m.pass = pass
	if pass == 1 {
		m.M = [size]byte{}
		m.F = [size]byte{}
	} else {
		m.Clear(0, size, false)
	}
	for i := range m.mapChar {
		m.mapChar[i] = byte(i + 32)
	}
}

// getPutAddress returns the address the next byte will be written to:
// O% in offset mode, P% otherwise. Offset mode with O% never set (-1)
// is a caller error; the assembly engine is expected to have rejected
// "O% = a" assignment attempts while not in offset mode, so this
// condition should not arise in practice, but is reported rather than
// panicking.
func (m *Memory) getPutAddress() (int32, error) {
	if m.OffsetMode() {
		if m.opc < 0 {
			return 0, fmt.Errorf("object memory: offset put address (O%%) not set")
		}
		return m.opc, nil
	}
	return m.pc, nil
}

// incrementPutAddress advances P% unconditionally, and O% too if
// offset mode is active, mirroring both into the symbol table.
func (m *Memory) incrementPutAddress() {
	m.pc++
	m.mirror("P%", float64(m.pc))
	if m.OffsetMode() {
		m.opc++
		m.mirror("O%", float64(m.opc))
	}
}

// emitByte applies the emit policy (spec §4.2) for a single byte at
// the current put address, tagging it with extraFlags in addition to
// Used on success.
func (m *Memory) emitByte(value byte, extraFlags Flag) error {
	addr, err := m.getPutAddress()
	if err != nil {
		return err
	}
	if addr < 0 || addr > 0xFFFF {
		return &Error{int(addr), "out of memory"}
	}
	a := int(addr)
	flags := Flag(m.F[a])

	if m.pass == 2 && flags&Check != 0 && flags&DontCheck == 0 && m.M[a] != value {
		return &Error{a, "inconsistent code"}
	}
	if flags&Guard != 0 {
		return &Error{a, "guard hit"}
	}
	if flags&Used != 0 {
		return &Error{a, "overlap"}
	}

	m.M[a] = value
	m.F[a] = byte(flags | Used | extraFlags)
	m.incrementPutAddress()
	return nil
}

// Assemble1 emits a single opcode byte, tagged Used|Check.
func (m *Memory) Assemble1(opcode byte) error {
	return m.emitByte(opcode, Check)
}

// Assemble2 emits an opcode byte (Used|Check) followed by one operand
// byte (Used only).
func (m *Memory) Assemble2(opcode, v8 byte) error {
	if err := m.emitByte(opcode, Check); err != nil {
		return err
	}
	return m.emitByte(v8, 0)
}

// Assemble3 emits an opcode byte (Used|Check) followed by a
// little-endian 16-bit operand (both bytes Used only).
func (m *Memory) Assemble3(opcode byte, v16 uint16) error {
	if err := m.emitByte(opcode, Check); err != nil {
		return err
	}
	if err := m.emitByte(byte(v16), 0); err != nil {
		return err
	}
	return m.emitByte(byte(v16>>8), 0)
}

// PutByte emits one byte without Check tagging, for data directives
// (EQUB/EQUW/EQUD/EQUS and friends).
func (m *Memory) PutByte(b byte) error {
	return m.emitByte(b, 0)
}

// SetGuard marks addr reserved; any emit targeting it will fail.
func (m *Memory) SetGuard(addr int) {
	m.F[addr] |= byte(Guard)
}

// Clear resets M[start,end) and F[start,end). If allFlags, memory is
// zeroed and flags are set to DontCheck (an explicit CLEAR
// directive). Otherwise (the inter-pass reset), Check and DontCheck
// are preserved and everything else (notably Used and Guard) is
// cleared.
func (m *Memory) Clear(start, end int, allFlags bool) {
	for i := start; i < end; i++ {
		if allFlags {
			m.M[i] = 0
			m.F[i] = byte(DontCheck)
		} else {
			m.F[i] &= byte(Check | DontCheck)
		}
	}
}

// ResetBetweenPasses performs the inter-pass reset described by
// InitialisePass, without touching M's contents or clobbering Check
// bits: CPU->0, P%->0, O%->unset, OPT->3, Clear(0,0x10000,false), and
// ASCII map back to identity.
func (m *Memory) ResetBetweenPasses() {
	m.InitialisePass(2)
}

// CopyBlock moves bytes and flags from [src,end) to
// [dst,dst+(end-src)), direction-safe so overlapping ranges copy
// correctly. It refuses if any destination byte has Guard set. Source
// flags are reduced to Check|DontCheck after the move (source
// Used/Guard is cleared, mirroring original_source/objectcode.cpp).
func (m *Memory) CopyBlock(src, end, dst int) error {
	n := end - src
	// Pre-flight: refuse if any destination byte is guarded.
	for i := 0; i < n; i++ {
		if Flag(m.F[dst+i])&Guard != 0 {
			return &Error{dst + i, "guard hit"}
		}
	}
	if dst > src {
		for i := n - 1; i >= 0; i-- {
			m.M[dst+i] = m.M[src+i]
			m.F[dst+i] = m.F[src+i]
		}
	} else {
		for i := 0; i < n; i++ {
			m.M[dst+i] = m.M[src+i]
			m.F[dst+i] = m.F[src+i]
		}
	}
	for i := 0; i < n; i++ {
		m.F[src+i] &= byte(Check | DontCheck)
	}
	return nil
}

// IncBin streams the bytes of r through Assemble1, in order, matching
// the original INCBIN directive.
func (m *Memory) IncBin(r io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			if aerr := m.Assemble1(buf[i]); aerr != nil {
				return aerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SetMapping updates the ASCII remap table used by EQUS/.DS output;
// ascii must be in (31,127).
func (m *Memory) SetMapping(ascii, mapped byte) error {
	if ascii <= 31 || ascii >= 127 {
		return fmt.Errorf("object memory: MAPCHAR ascii %d out of range", ascii)
	}
	m.mapChar[ascii-32] = mapped
	return nil
}

// GetMapping returns the output byte mapped from ascii.
func (m *Memory) GetMapping(ascii byte) byte {
	return m.mapChar[ascii-32]
}
