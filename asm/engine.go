package asm

import (
	"fmt"
	"io"
	"strings"

	"github.com/beebasm-go/beebasm/memory"
	"github.com/beebasm-go/beebasm/opcode"
	"github.com/beebasm-go/beebasm/rng"
	"github.com/beebasm-go/beebasm/symtab"
)

// SyntaxError is a source error (spec §7 kind 1): the line it was
// found on, the column, and a message.
type SyntaxError struct {
	Line   fstring
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line.row, e.Line.column+1, e.Reason)
}

func (e *Engine) syntaxError(l fstring, format string, args ...interface{}) error {
	return &SyntaxError{Line: l, Reason: fmt.Sprintf(format, args...)}
}

// Include resolves the argument of an INCBIN directive to a byte
// stream. The engine has no file-I/O surface of its own (spec §1:
// "source-line include stack" is an external collaborator); a nil
// Include makes INCBIN an assembly-state error.
type Include func(name string) (io.ReadCloser, error)

// Export describes one address recorded in a SourceMap's Exports
// list (the engine's analogue of the teacher's debugger-export
// record, repurposed here to hold assembler label exports instead of
// emulator breakpoint/export addresses).
type Export struct {
	Label   string
	Address uint16
}

// SaveDirective records one `SAVE "name",start,end[,exec[,reload]]`
// statement, queued for the caller to turn into a disc.Image.AddFile
// call once assembly finishes (spec §4.3's directive list; the Disc
// Image component is wired by the caller, not the engine, since disc
// packaging is a separate, optional final step — not every assembly
// job produces a disc image).
type SaveDirective struct {
	Name       string
	Start, End int
	Exec       int
	HasExec    bool
}

// forFrame tracks one open FOR...NEXT loop: its induction variable,
// bounds, and the raw source lines of its body, collected verbatim
// until the matching NEXT and then replayed once per iteration.
type forFrame struct {
	varName            string
	startV, endV, step float64
	body               []fstring
	nest               int
}

// Engine is the two-pass assembly engine (spec §4.3), wired explicitly
// to one Symbol Table and one Object Memory per job rather than
// through the original design's process-wide singletons (spec §9).
type Engine struct {
	Mem     *memory.Memory
	Syms    *symtab.Table
	Eval    Evaluator
	Out     io.Writer
	Verbose bool
	Include Include

	// RNG backs RND() and RANDOMIZE (spec §4.6). NewEngine always
	// supplies one; an Engine built by hand may leave it nil, in which
	// case both RND() and RANDOMIZE become source errors.
	RNG *rng.Generator

	Saves []SaveDirective

	// Map, if non-nil, accumulates one SourceLine per emitted
	// instruction byte's address during pass 2, for a caller that
	// wants to correlate addresses back to source. Left nil, this
	// costs nothing.
	Map *SourceMap

	forStack []forFrame
	fileIdx  int
}

// Export names a label to be recorded in Map.Exports once assembly
// finishes; the caller supplies the label names it cares about (the
// engine doesn't know which labels are meant to be "public").
func (e *Engine) Export(names ...string) error {
	if e.Map == nil {
		return nil
	}
	for _, name := range names {
		v, err := e.Syms.Resolve(name)
		if err != nil {
			return fmt.Errorf("asm: export %q: %w", name, err)
		}
		e.Map.Exports = append(e.Map.Exports, Export{Label: name, Address: uint16(int64(v))})
	}
	e.Map.Exports = sortExports(e.Map.Exports)
	return nil
}

// NewEngine builds an Engine with a freshly constructed Symbol Table
// and Object Memory, wired to the default Eval implementation (its
// Here reads the engine's own Memory, so callers never see the
// construction-order dependency between the two).
func NewEngine(out io.Writer, verbose bool) *Engine {
	syms := symtab.New()
	mem := memory.New(syms)
	gen := rng.New()
	e := &Engine{Mem: mem, Syms: syms, Out: out, Verbose: verbose, RNG: gen}
	ev := &Eval{Syms: syms, RNG: gen}
	ev.Here = func() float64 { return float64(mem.PC()) }
	e.Eval = ev
	return e
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Verbose && e.Out != nil {
		fmt.Fprintf(e.Out, format, args...)
		fmt.Fprintln(e.Out)
	}
}

// Assemble runs the full two-pass job over src (one logical source,
// already concatenated from whatever input files the caller gathered
// — multi-file include is the out-of-scope "source-line include
// stack", spec §1). It returns the first source error encountered;
// assembly-state errors (guard hit, overlap, out of memory,
// inconsistent code) are returned the same way, wrapped.
func (e *Engine) Assemble(src []string) error {
	e.Mem.InitialisePass(1)
	e.Syms.ResetStacks()
	e.logf("-- pass 1 --")
	if err := e.runPass(src, false); err != nil {
		return err
	}
	if e.Syms.ScopeDepth() != 0 {
		return &Error{"unclosed scope at end of pass"}
	}

	e.Mem.ResetBetweenPasses()
	e.Syms.ResetStacks()
	e.logf("-- pass 2 --")
	if err := e.runPass(src, true); err != nil {
		return err
	}
	if e.Syms.ScopeDepth() != 0 {
		return &Error{"unclosed scope at end of pass"}
	}
	return nil
}

func (e *Engine) runPass(src []string, second bool) error {
	e.Mem.SetSecondPass(second)
	for row, text := range src {
		l := newFstring(e.fileIdx, row+1, text).stripTrailingComment()
		if err := e.AssembleLine(l); err != nil {
			return err
		}
	}
	return nil
}

// AssembleLine processes one physical source line: while a FOR body
// is being collected it buffers the line (tracking nested FOR/NEXT),
// otherwise it peels off a leading label and assembles the remaining
// statements.
func (e *Engine) AssembleLine(l fstring) error {
	if n := len(e.forStack); n > 0 {
		top := &e.forStack[n-1]
		trimmed := l.consumeWhitespace()
		if _, ok := matchWord(trimmed.str, "FOR"); ok {
			top.nest++
			top.body = append(top.body, l)
			return nil
		}
		if _, ok := matchWord(trimmed.str, "NEXT"); ok {
			if top.nest > 0 {
				top.nest--
				top.body = append(top.body, l)
				return nil
			}
			return e.runFor()
		}
		top.body = append(top.body, l)
		return nil
	}

	rest := l
	if name, tail, ok := scanLabel(l); ok {
		pc := float64(e.Mem.PC())
		err := e.Syms.AddLabel(name, pc)
		if err != nil && e.Mem.IsSecondPass() && e.Syms.ScopeDepth() == 0 && e.Syms.IsDefined(name) {
			// Pass 1 already defined this top-level label; pass 2
			// updates it to the address it has now.
			err = e.Syms.Change(name, pc)
		}
		if err != nil {
			return e.syntaxError(l, "%s", err)
		}
		rest = tail
	}
	for _, stmt := range splitStatements(rest) {
		stmt = stmt.consumeWhitespace()
		if stmt.isEmpty() {
			continue
		}
		if err := e.assembleStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

// scanLabel recognises a leading `.name` label and returns the label
// text and the remainder of the line after it.
func scanLabel(l fstring) (name string, rest fstring, ok bool) {
	l = l.consumeWhitespace()
	if !l.startsWithChar('.') {
		return "", l, false
	}
	after := l.consume(1)
	consumed, remain := after.consumeWhile(isWordChar)
	if consumed.isEmpty() {
		return "", l, false
	}
	return consumed.str, remain, true
}

// splitStatements divides a line into `:`-separated statements,
// respecting double-quoted string literals.
func splitStatements(l fstring) []fstring {
	var out []fstring
	for {
		consumed, remain := l.consumeUntilUnquotedChar(':')
		out = append(out, consumed)
		if remain.isEmpty() {
			return out
		}
		l = remain.consume(1)
	}
}

func isWordChar(c byte) bool {
	return alpha(c) || decimal(c) || c == '_'
}

// matchWord reports whether s begins with word (case-insensitive),
// consuming it and any following whitespace. No boundary check is
// performed past the matched length — the original table walk
// (original_source/src/assemble.cpp GetInstructionAndAdvanceColumn)
// doesn't do one either, so e.g. "ORGY" would match "ORG" and leave
// "Y" as a malformed operand rather than being rejected up front.
func matchWord(s, word string) (rest string, ok bool) {
	if len(s) < len(word) || !strings.EqualFold(s[:len(word)], word) {
		return s, false
	}
	return strings.TrimLeft(s[len(word):], " \t"), true
}

func (e *Engine) assembleStatement(stmt fstring) error {
	s := stmt.str

	switch s {
	case "{":
		e.Syms.PushBrace()
		return nil
	case "}":
		if err := e.Syms.PopScope(); err != nil {
			return e.syntaxError(stmt, "%s", err)
		}
		return nil
	}

	if rest, ok := matchWord(s, "CPU"); ok {
		v, err := e.evalFull(stmt, rest)
		if err != nil {
			return err
		}
		e.Mem.SetCPU(int(v))
		return nil
	}
	if rest, ok := matchWord(s, "ORG"); ok {
		v, err := e.evalFull(stmt, rest)
		if err != nil {
			return err
		}
		e.Mem.SetPC(int32(v))
		return nil
	}
	if rest, ok := matchWord(s, "OPT"); ok {
		v, err := e.evalFull(stmt, rest)
		if err != nil {
			return err
		}
		e.Mem.SetOPT(int(v))
		return nil
	}
	if rest, ok := matchWord(s, "GUARD"); ok {
		v, err := e.evalFull(stmt, rest)
		if err != nil {
			return err
		}
		e.Mem.SetGuard(int(v))
		return nil
	}
	if rest, ok := matchWord(s, "CLEAR"); ok {
		start, end, err := e.evalPair(stmt, rest)
		if err != nil {
			return err
		}
		e.Mem.Clear(int(start), int(end), true)
		return nil
	}
	if rest, ok := matchWord(s, "EQUB"); ok {
		return e.assembleEqu(stmt, rest, 1)
	}
	if rest, ok := matchWord(s, "EQUW"); ok {
		return e.assembleEqu(stmt, rest, 2)
	}
	if rest, ok := matchWord(s, "EQUD"); ok {
		return e.assembleEqu(stmt, rest, 4)
	}
	if rest, ok := matchWord(s, "EQUS"); ok {
		return e.assembleEqus(stmt, rest)
	}
	if rest, ok := matchWord(s, "INCBIN"); ok {
		return e.assembleIncbin(stmt, rest)
	}
	if rest, ok := matchWord(s, "MAPCHAR"); ok {
		a, b, err := e.evalPair(stmt, rest)
		if err != nil {
			return err
		}
		if err := e.Mem.SetMapping(byte(a), byte(b)); err != nil {
			return e.syntaxError(stmt, "%s", err)
		}
		return nil
	}
	if rest, ok := matchWord(s, "SAVE"); ok {
		return e.assembleSave(stmt, rest)
	}
	if rest, ok := matchWord(s, "RANDOMIZE"); ok {
		return e.assembleRandomize(stmt, rest)
	}
	if rest, ok := matchWord(s, "FOR"); ok {
		return e.beginFor(stmt, rest)
	}
	if _, ok := matchWord(s, "NEXT"); ok {
		return e.syntaxError(stmt, "NEXT without FOR")
	}
	if rest, ok := matchWord(s, "P%"); ok {
		if v, ok2, err := e.assembleAssignment(stmt, rest); ok2 {
			if err != nil {
				return err
			}
			e.Mem.SetPC(int32(v))
			return nil
		}
	}
	if rest, ok := matchWord(s, "O%"); ok {
		if v, ok2, err := e.assembleAssignment(stmt, rest); ok2 {
			if err != nil {
				return err
			}
			if !e.Mem.OffsetMode() {
				return e.syntaxError(stmt, "O%% assignment requires OPT.bit2 (offset assembly)")
			}
			e.Mem.SetOPC(int32(v))
			return nil
		}
	}

	if entry, rest, ok := e.recogniseMnemonic(stmt); ok {
		return e.assembleInstruction(stmt, entry, rest)
	}

	return e.assembleGenericStatement(stmt)
}

// assembleAssignment recognises "name = expr" at the head of rest
// (rest already has the leading "name" token trimmed off by the
// caller's matchWord). ok is false if rest isn't of that shape, in
// which case the caller should fall through and treat `name` as an
// ordinary identifier (e.g. start of a label reference elsewhere).
func (e *Engine) assembleAssignment(stmt fstring, rest string) (value float64, ok bool, err error) {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "=") {
		return 0, false, nil
	}
	rest = rest[1:]
	v, remain, everr := e.Eval.Eval(rest, false)
	if everr != nil {
		return 0, true, e.wrapEvalErr(stmt, everr)
	}
	if strings.TrimSpace(remain) != "" {
		return 0, true, e.syntaxError(stmt, "unexpected characters after expression")
	}
	return v, true, nil
}

// assembleGenericStatement handles a bare "name = expr" symbol
// assignment, the only statement shape left once directives and
// instructions have been ruled out.
func (e *Engine) assembleGenericStatement(stmt fstring) error {
	name, rest, ok := scanIdent(stmt.str)
	if !ok {
		return e.syntaxError(stmt, "not an instruction")
	}
	v, ok, err := e.assembleAssignment(stmt, rest)
	if !ok {
		return e.syntaxError(stmt, "not an instruction")
	}
	if err != nil {
		return err
	}
	if e.Syms.IsDefined(name) {
		if err := e.Syms.Change(name, v); err != nil {
			return e.syntaxError(stmt, "%s", err)
		}
		return nil
	}
	if err := e.Syms.Add(name, v, false); err != nil {
		return e.syntaxError(stmt, "%s", err)
	}
	return nil
}

func scanIdent(s string) (name, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	i := 0
	for i < len(s) && isWordChar(s[i]) {
		i++
	}
	if i == 0 {
		return "", s, false
	}
	return s[:i], s[i:], true
}

func consumeComma(s string) (rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	if len(s) > 0 && s[0] == ',' {
		return strings.TrimLeft(s[1:], " \t"), true
	}
	return s, false
}

// evalFull evaluates rest as a single expression and requires it to
// consume the whole remainder of the statement.
func (e *Engine) evalFull(stmt fstring, rest string) (float64, error) {
	v, remain, err := e.Eval.Eval(rest, false)
	if err != nil {
		return 0, e.wrapEvalErr(stmt, err)
	}
	if strings.TrimSpace(remain) != "" {
		return 0, e.syntaxError(stmt, "unexpected characters after expression")
	}
	return v, nil
}

// evalPair evaluates "expr,expr" and requires it to consume the whole
// remainder of the statement.
func (e *Engine) evalPair(stmt fstring, rest string) (a, b float64, err error) {
	a, remain, everr := e.Eval.Eval(rest, false)
	if everr != nil {
		return 0, 0, e.wrapEvalErr(stmt, everr)
	}
	remain, ok := consumeComma(remain)
	if !ok {
		return 0, 0, e.syntaxError(stmt, "expected ','")
	}
	b, remain, everr = e.Eval.Eval(remain, false)
	if everr != nil {
		return 0, 0, e.wrapEvalErr(stmt, everr)
	}
	if strings.TrimSpace(remain) != "" {
		return 0, 0, e.syntaxError(stmt, "unexpected characters after expression")
	}
	return a, b, nil
}

// wrapEvalErr turns an Evaluator error into a source error. It is used
// by directives (GUARD, CLEAR, MAPCHAR, SAVE, FOR) whose arguments
// must be known values right away — unlike an instruction operand,
// none of these has a sensible address-shaped default to substitute
// for a forward reference, so an undefined symbol is fatal here even
// during pass 1.
func (e *Engine) wrapEvalErr(stmt fstring, err error) error {
	return e.syntaxError(stmt, "%s", err)
}

// evalWithDefault evaluates expr, applying the pass-1 substitution
// policy: an undefined symbol becomes def in pass 1, and is fatal in
// pass 2.
func (e *Engine) evalWithDefault(stmt fstring, expr string, extraRParen bool, def float64) (float64, string, error) {
	v, remain, err := e.Eval.Eval(expr, extraRParen)
	if err == nil {
		return v, remain, nil
	}
	if _, ok := err.(*UndefinedSymbolError); ok && !e.Mem.IsSecondPass() {
		return def, remain, nil
	}
	return 0, "", e.syntaxError(stmt, "%s", err)
}

//
// Data directives
//

func (e *Engine) assembleEqu(stmt fstring, rest string, width int) error {
	for {
		rest = strings.TrimSpace(rest)
		v, remain, err := e.evalWithDefault(stmt, rest, false, float64(e.Mem.PC()))
		if err != nil {
			return err
		}
		addr := e.Mem.PC()
		b := toBytes(width, int(int64(v)))
		for _, by := range b {
			if err := e.Mem.PutByte(by); err != nil {
				return fmt.Errorf("assembly: %w", err)
			}
		}
		e.logf("%04X  %s", addr, byteString(b))
		var ok bool
		rest, ok = consumeComma(remain)
		if !ok {
			if strings.TrimSpace(remain) != "" {
				return e.syntaxError(stmt, "unexpected characters after expression")
			}
			return nil
		}
	}
}

func (e *Engine) assembleEqus(stmt fstring, rest string) error {
	for {
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return e.syntaxError(stmt, "unterminated string")
			}
			text := rest[1 : 1+end]
			for i := 0; i < len(text); i++ {
				c := text[i]
				var mapped byte
				if c > 31 && c < 127 {
					mapped = e.Mem.GetMapping(c)
				} else {
					mapped = c
				}
				if err := e.Mem.PutByte(mapped); err != nil {
					return fmt.Errorf("assembly: %w", err)
				}
			}
			rest = rest[1+end+1:]
		} else {
			v, remain, err := e.evalWithDefault(stmt, rest, false, float64(e.Mem.PC()))
			if err != nil {
				return err
			}
			if err := e.Mem.PutByte(byte(int64(v))); err != nil {
				return fmt.Errorf("assembly: %w", err)
			}
			rest = remain
		}
		var ok bool
		rest, ok = consumeComma(rest)
		if !ok {
			if strings.TrimSpace(rest) != "" {
				return e.syntaxError(stmt, "unexpected characters after expression")
			}
			return nil
		}
	}
}

func (e *Engine) assembleIncbin(stmt fstring, rest string) error {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, `"`) {
		return e.syntaxError(stmt, "expected a quoted filename")
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return e.syntaxError(stmt, "unterminated string")
	}
	name := rest[1 : 1+end]
	if e.Include == nil {
		return fmt.Errorf("assembly: INCBIN %q: no file source configured", name)
	}
	r, err := e.Include(name)
	if err != nil {
		return fmt.Errorf("assembly: INCBIN %q: %w", name, err)
	}
	defer r.Close()
	if err := e.Mem.IncBin(r); err != nil {
		return fmt.Errorf("assembly: %w", err)
	}
	return nil
}

func (e *Engine) assembleSave(stmt fstring, rest string) error {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, `"`) {
		return e.syntaxError(stmt, "expected a quoted filename")
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return e.syntaxError(stmt, "unterminated string")
	}
	name := rest[1 : 1+end]
	rest = rest[1+end+1:]

	rest, ok := consumeComma(rest)
	if !ok {
		return e.syntaxError(stmt, "expected ','")
	}
	start, remain, err := e.Eval.Eval(rest, false)
	if err != nil {
		return e.wrapEvalErr(stmt, err)
	}
	rest, ok = consumeComma(remain)
	if !ok {
		return e.syntaxError(stmt, "expected ','")
	}
	endAddr, remain, err := e.Eval.Eval(rest, false)
	if err != nil {
		return e.wrapEvalErr(stmt, err)
	}

	sd := SaveDirective{Name: name, Start: int(start), End: int(endAddr)}
	rest, ok = consumeComma(remain)
	if ok {
		exec, remain2, err := e.Eval.Eval(rest, false)
		if err != nil {
			return e.wrapEvalErr(stmt, err)
		}
		sd.Exec, sd.HasExec = int(exec), true
		remain = remain2
		// A trailing ",reload" address is accepted and ignored: this
		// module has no loader to honour it, and the disc catalogue
		// format has no field for it.
		if rest2, ok2 := consumeComma(remain); ok2 {
			if _, remain3, err := e.Eval.Eval(rest2, false); err == nil {
				remain = remain3
			}
		}
	}
	if strings.TrimSpace(remain) != "" {
		return e.syntaxError(stmt, "unexpected characters after expression")
	}
	e.Saves = append(e.Saves, sd)
	return nil
}

// assembleRandomize implements RANDOMIZE[expr] (spec §4.6): with an
// argument, reseeds the RNG from it; bare, it reseeds to the
// generator's documented default so a source file can force
// reproducible RND() output regardless of what ran before it.
func (e *Engine) assembleRandomize(stmt fstring, rest string) error {
	if e.RNG == nil {
		return e.syntaxError(stmt, "RANDOMIZE used without a random number generator")
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		e.RNG.Seed(rng.DefaultSeed)
		return nil
	}
	v, err := e.evalFull(stmt, rest)
	if err != nil {
		return err
	}
	e.RNG.Seed(uint64(int64(v)))
	return nil
}

//
// FOR / NEXT
//

func (e *Engine) beginFor(stmt fstring, rest string) error {
	name, rest2, ok := scanIdent(rest)
	if !ok {
		return e.syntaxError(stmt, "malformed FOR")
	}
	rest2, ok = consumeComma(rest2)
	if !ok {
		return e.syntaxError(stmt, "malformed FOR")
	}
	startV, remain, err := e.Eval.Eval(rest2, false)
	if err != nil {
		return e.wrapEvalErr(stmt, err)
	}
	remain, ok = consumeComma(remain)
	if !ok {
		return e.syntaxError(stmt, "malformed FOR")
	}
	endV, remain, err := e.Eval.Eval(remain, false)
	if err != nil {
		return e.wrapEvalErr(stmt, err)
	}
	step := 1.0
	if rest3, ok := consumeComma(remain); ok {
		var serr error
		step, remain, serr = e.Eval.Eval(rest3, false)
		if serr != nil {
			return e.wrapEvalErr(stmt, serr)
		}
	}
	if strings.TrimSpace(remain) != "" {
		return e.syntaxError(stmt, "unexpected characters after expression")
	}
	if err := e.Syms.PushFor(name, startV); err != nil {
		return e.syntaxError(stmt, "%s", err)
	}
	e.forStack = append(e.forStack, forFrame{varName: name, startV: startV, endV: endV, step: step})
	return nil
}

func (e *Engine) runFor() error {
	n := len(e.forStack)
	f := e.forStack[n-1]
	e.forStack = e.forStack[:n-1]

	first := true
	for v := f.startV; (f.step > 0 && v <= f.endV) || (f.step < 0 && v >= f.endV); v += f.step {
		if !first {
			if err := e.Syms.PopStack(f.varName); err != nil {
				return err
			}
			if err := e.Syms.PushStack(f.varName, v); err != nil {
				return err
			}
		}
		first = false
		for _, body := range f.body {
			if err := e.AssembleLine(body); err != nil {
				return err
			}
		}
	}
	return e.Syms.PopScope()
}

//
// Instruction recognition and addressing-mode selection
//

// recogniseMnemonic walks the opcode table in declaration order,
// skipping mnemonics whose base CPU exceeds the current level, and
// matches the head of stmt case-insensitively (spec §4.3
// "Instruction recognition"). First match wins.
func (e *Engine) recogniseMnemonic(stmt fstring) (*opcode.Entry, fstring, bool) {
	s := stmt.str
	cpu := e.Mem.CPU()
	for i := range opcode.Table {
		entry := &opcode.Table[i]
		if entry.BaseCPU > cpu {
			continue
		}
		name := entry.Mnemonic
		if len(s) < len(name) {
			continue
		}
		if !strings.EqualFold(s[:len(name)], name) {
			continue
		}
		return entry, stmt.consume(len(name)), true
	}
	return nil, stmt, false
}

// hasMode reports whether entry supports mode at the engine's current
// CPU level: present alone isn't enough, since some modes (e.g. the
// 65C02 zero-page-indirect addition to several NMOS mnemonics) are
// tagged with a CPU level above the mnemonic's own BaseCPU.
func (e *Engine) hasMode(entry *opcode.Entry, mode opcode.Mode) bool {
	return entry.Has(mode) && entry.RequiredCPU(mode) <= e.Mem.CPU()
}

// assembleInstruction implements the addressing-mode decision tree of
// spec §4.3, grounded on
// original_source/src/assemble.cpp:LineParser::HandleAssembler.
func (e *Engine) assembleInstruction(stmt fstring, entry *opcode.Entry, rest fstring) error {
	rest = rest.consumeWhitespace()

	// 1. End of statement -> implied.
	if rest.isEmpty() {
		if !e.hasMode(entry, opcode.IMP) {
			return e.syntaxError(stmt, "%s: no implied addressing mode", entry.Mnemonic)
		}
		return e.emit1(stmt, entry, opcode.IMP)
	}

	// 2. Immediate.
	if rest.startsWithChar('#') {
		if !e.hasMode(entry, opcode.IMM) {
			return e.syntaxError(stmt, "%s: no immediate addressing mode", entry.Mnemonic)
		}
		v, remain, err := e.evalWithDefault(stmt, rest.consume(1).str, false, 0)
		if err != nil {
			return err
		}
		if v > 255 {
			return e.syntaxError(stmt, "immediate constant too large")
		}
		if v < 0 {
			return e.syntaxError(stmt, "immediate constant is negative")
		}
		if strings.HasPrefix(strings.TrimSpace(remain), ",") {
			return e.syntaxError(stmt, "unexpected comma")
		}
		if strings.TrimSpace(remain) != "" {
			return e.syntaxError(stmt, "unexpected characters after expression")
		}
		return e.emit2(stmt, entry, opcode.IMM, byte(int(v)))
	}

	// 3. Bare A, with rewind if it turns out to start a label/expr.
	if e.hasMode(entry, opcode.ACC) && rest.startsWith(isUpperA) {
		after := rest.consume(1).consumeWhitespace()
		if after.isEmpty() {
			return e.emit1(stmt, entry, opcode.ACC)
		}
	}

	// 4. Indirect forms.
	if rest.startsWithChar('(') {
		return e.assembleIndirect(stmt, entry, rest.consume(1))
	}

	// 5. abs/zp, possibly indexed, or relative.
	return e.assembleDirect(stmt, entry, rest)
}

func isUpperA(c byte) bool { return c == 'A' || c == 'a' }

// assembleIndirect handles the `(` sub-tree. rest is the statement
// text just after the `(` the caller already consumed. With
// extraRParen set, Eval itself swallows a `)` immediately terminating
// the expression (the "expr)" and "expr),Y" shapes below); it cannot
// do that for "expr,X)" since lexing of the expression already stops
// dead at the comma, leaving ",X)" for us to inspect here verbatim.
func (e *Engine) assembleIndirect(stmt fstring, entry *opcode.Entry, rest fstring) error {
	v, remain, err := e.evalWithDefault(stmt, rest.str, true, 0)
	if err != nil {
		return err
	}
	after := rest.consume(len(rest.str) - len(remain)).consumeWhitespace()

	if after.isEmpty() {
		if e.hasMode(entry, opcode.IND16) {
			if e.Mem.CPU() == 0 && int(v)&0xFF == 0xFF {
				return e.syntaxError(stmt, "6502 JMP (&xxFF) indirect bug")
			}
			return e.emit3(stmt, entry, opcode.IND16, uint16(v))
		}
		if !e.hasMode(entry, opcode.IND) {
			return e.syntaxError(stmt, "%s: no indirect addressing mode", entry.Mnemonic)
		}
		if v > 255 {
			return e.syntaxError(stmt, "not zero page")
		}
		if v < 0 {
			return e.syntaxError(stmt, "bad address")
		}
		return e.emit2(stmt, entry, opcode.IND, byte(int(v)))
	}

	if after.startsWithChar(',') {
		tail := after.consume(1).consumeWhitespace()
		if tail.startsWith(isUpperY) {
			tail = tail.consume(1)
			if tw := tail.consumeWhitespace(); !tw.isEmpty() {
				return e.syntaxError(stmt, "bad indirect addressing")
			}
			if !e.hasMode(entry, opcode.INDY) {
				return e.syntaxError(stmt, "%s: no indirect addressing mode", entry.Mnemonic)
			}
			if v > 255 {
				return e.syntaxError(stmt, "not zero page")
			}
			if v < 0 {
				return e.syntaxError(stmt, "bad address")
			}
			return e.emit2(stmt, entry, opcode.INDY, byte(int(v)))
		}
		if tail.startsWith(isUpperX) {
			tail = tail.consume(1)
			if !tail.startsWithChar(')') {
				return e.syntaxError(stmt, "mismatched parentheses")
			}
			tail = tail.consume(1)
			if tw := tail.consumeWhitespace(); !tw.isEmpty() {
				return e.syntaxError(stmt, "bad indirect addressing")
			}
			if e.hasMode(entry, opcode.IND16X) {
				return e.emit3(stmt, entry, opcode.IND16X, uint16(v))
			}
			if !e.hasMode(entry, opcode.INDX) {
				return e.syntaxError(stmt, "%s: no indirect addressing mode", entry.Mnemonic)
			}
			if v > 255 {
				return e.syntaxError(stmt, "not zero page")
			}
			if v < 0 {
				return e.syntaxError(stmt, "bad address")
			}
			return e.emit2(stmt, entry, opcode.INDX, byte(int(v)))
		}
		return e.syntaxError(stmt, "bad indirect addressing")
	}

	return e.syntaxError(stmt, "bad indirect addressing")
}

func isUpperX(c byte) bool { return c == 'X' || c == 'x' }
func isUpperY(c byte) bool { return c == 'Y' || c == 'y' }

func (e *Engine) assembleDirect(stmt fstring, entry *opcode.Entry, rest fstring) error {
	v, remain, err := e.evalWithDefault(stmt, rest.str, false, float64(e.Mem.PC()))
	if err != nil {
		return err
	}
	after := rest.consume(len(rest.str) - len(remain)).consumeWhitespace()

	if after.isEmpty() {
		if e.hasMode(entry, opcode.REL) {
			branch := int(v) - (int(e.Mem.PC()) + 2)
			if branch < -128 || branch > 127 {
				return e.syntaxError(stmt, "branch out of range")
			}
			return e.emit2(stmt, entry, opcode.REL, byte(branch))
		}
		if v < 0 || v > 0xFFFF {
			return e.syntaxError(stmt, "bad address")
		}
		if v < 0x100 && e.hasMode(entry, opcode.ZP) {
			return e.emit2(stmt, entry, opcode.ZP, byte(int(v)))
		}
		if e.hasMode(entry, opcode.ABS) {
			return e.emit3(stmt, entry, opcode.ABS, uint16(v))
		}
		return e.syntaxError(stmt, "%s: no absolute addressing mode", entry.Mnemonic)
	}

	if !after.startsWithChar(',') {
		return e.syntaxError(stmt, "bad absolute address")
	}
	after = after.consume(1).consumeWhitespace()
	if after.isEmpty() {
		return e.syntaxError(stmt, "bad absolute address")
	}

	if after.startsWith(isUpperX) {
		if aw := after.consume(1).consumeWhitespace(); !aw.isEmpty() {
			return e.syntaxError(stmt, "bad indexed address")
		}
		if v < 0 || v > 0xFFFF {
			return e.syntaxError(stmt, "bad address")
		}
		if v < 0x100 && e.hasMode(entry, opcode.ZPX) {
			return e.emit2(stmt, entry, opcode.ZPX, byte(int(v)))
		}
		if e.hasMode(entry, opcode.ABSX) {
			return e.emit3(stmt, entry, opcode.ABSX, uint16(v))
		}
		return e.syntaxError(stmt, "%s: no indexed-X addressing mode", entry.Mnemonic)
	}

	if after.startsWith(isUpperY) {
		if aw := after.consume(1).consumeWhitespace(); !aw.isEmpty() {
			return e.syntaxError(stmt, "bad indexed address")
		}
		if v < 0 || v > 0xFFFF {
			return e.syntaxError(stmt, "bad address")
		}
		if v < 0x100 && e.hasMode(entry, opcode.ZPY) {
			return e.emit2(stmt, entry, opcode.ZPY, byte(int(v)))
		}
		if e.hasMode(entry, opcode.ABSY) {
			return e.emit3(stmt, entry, opcode.ABSY, uint16(v))
		}
		return e.syntaxError(stmt, "%s: no indexed-Y addressing mode", entry.Mnemonic)
	}

	return e.syntaxError(stmt, "bad index register")
}

// recordLine appends a SourceLine for the instruction about to be
// emitted at the engine's current address, during pass 2 only (pass
// 1 addresses are provisional and get overwritten wholesale by
// ResetBetweenPasses before pass 2 runs).
func (e *Engine) recordLine(stmt fstring) {
	if e.Map != nil && e.Mem.IsSecondPass() {
		e.Map.Lines = append(e.Map.Lines, SourceLine{
			Address:   int(e.Mem.PC()),
			FileIndex: stmt.fileIndex,
			Line:      stmt.row,
		})
	}
}

func (e *Engine) emit1(stmt fstring, entry *opcode.Entry, mode opcode.Mode) error {
	op := entry.Opcode(mode)
	e.logf("%04X  %02X         %s [%s]", e.Mem.PC(), op, entry.Mnemonic, opcode.GetCycles(op, 0))
	e.recordLine(stmt)
	if err := e.Mem.Assemble1(op); err != nil {
		return e.wrapMemErr(stmt, err)
	}
	return nil
}

func (e *Engine) emit2(stmt fstring, entry *opcode.Entry, mode opcode.Mode, v8 byte) error {
	op := entry.Opcode(mode)
	e.logf("%04X  %02X %02X      %s", e.Mem.PC(), op, v8, entry.Mnemonic)
	e.recordLine(stmt)
	if err := e.Mem.Assemble2(op, v8); err != nil {
		return e.wrapMemErr(stmt, err)
	}
	return nil
}

func (e *Engine) emit3(stmt fstring, entry *opcode.Entry, mode opcode.Mode, v16 uint16) error {
	op := entry.Opcode(mode)
	e.logf("%04X  %02X %02X %02X   %s", e.Mem.PC(), op, byte(v16), byte(v16>>8), entry.Mnemonic)
	e.recordLine(stmt)
	if err := e.Mem.Assemble3(op, v16); err != nil {
		return e.wrapMemErr(stmt, err)
	}
	return nil
}

func (e *Engine) wrapMemErr(stmt fstring, err error) error {
	return e.syntaxError(stmt, "%s", err)
}
