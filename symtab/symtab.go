// Package symtab implements the assembler's symbol table: a
// case-sensitive map from name to either a scalar value or a stack of
// values, plus the scope machinery used to mangle labels declared
// inside `{ }` blocks and FOR...NEXT loops.
//
// The original design (see original_source/src/symboltable.cpp) is a
// process-wide singleton. This package instead exposes a Table value
// that the assembly engine owns and threads explicitly, so that
// nothing about a running assembly job survives outside the value the
// caller holds.
package symtab

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Error is returned for symbol-table logic errors: redefinition,
// assignment to a stack, reading an undefined or empty-stack symbol.
type Error struct {
	Op     string
	Symbol string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("symbol table: %s %q: %s", e.Op, e.Symbol, e.Reason)
}

type symbol struct {
	value       float64
	stack       []float64
	isStack     bool
	isLabel     bool
	isCommand   bool // set by AddCommandLineSymbol, cleared by the first source Add
}

// scopeFrame records what a `{` or FOR entry needs to undo on exit:
// the scope id it introduced, and (for FOR) the induction variable's
// name so its stack symbol can be located again without a separate
// side table.
type scopeFrame struct {
	id     int
	forVar string // "" unless this frame was opened by PushFor
}

// scopeRecord is the permanent (never popped) record of a scope that
// was opened at some point during assembly, kept so Dump(global, true)
// can still describe scopes that have since closed.
type scopeRecord struct {
	id       int
	parent   int // 0 for a scope opened at global (top) level
	children []int
}

// Table is the symbol table for one assembly job.
type Table struct {
	symbols   map[string]*symbol
	order     []string // insertion order, for stable Dump output
	scopes    []scopeFrame
	nextScope int
	lastLabel string // most recently added label (set by AddLabel, not read by Resolve)

	allScopes map[int]*scopeRecord // every scope ever opened, keyed by id
	roots     []int                // top-level scope ids, in the order opened
}

// New returns a Table pre-populated with the magic symbols PI, P%,
// TRUE, FALSE and CPU, matching the constructor behaviour of
// original_source/src/symboltable.cpp and ObjectCode's CPU symbol.
func New() *Table {
	t := &Table{symbols: make(map[string]*symbol), allScopes: make(map[int]*scopeRecord)}
	t.set("PI", 3.14159265358979323846, false)
	t.set("P%", 0, false)
	t.set("TRUE", -1, false)
	t.set("FALSE", 0, false)
	t.set("CPU", 0, false)
	return t
}

func (t *Table) set(name string, value float64, isLabel bool) {
	if _, exists := t.symbols[name]; !exists {
		t.order = append(t.order, name)
	}
	t.symbols[name] = &symbol{value: value, isLabel: isLabel}
}

// Add defines name with value. It fails if name is already defined,
// unless the existing definition came from AddCommandLineSymbol, in
// which case this call is a silent no-op that clears the command-line
// flag (source never overwrites a command-line override, but gets to
// "define" it once without error).
func (t *Table) Add(name string, value float64, isLabel bool) error {
	if s, ok := t.symbols[name]; ok {
		if !s.isCommand {
			return &Error{"Add", name, "already defined"}
		}
		s.isCommand = false
		return nil
	}
	t.set(name, value, isLabel)
	return nil
}

// AddCommandLineSymbol parses a "-D" style expression of the form
// `name` or `name=value` (missing value defaults to 1) and defines it
// as a command-line symbol. The name must start with a letter or
// underscore; later characters may be alphanumeric or underscore. The
// numeric literal, if present, must parse wholly as a float with no
// trailing characters.
func (t *Table) AddCommandLineSymbol(expr string) error {
	name, valueStr, hasValue := expr, "1", false
	if i := strings.IndexByte(expr, '='); i >= 0 {
		name, valueStr, hasValue = expr[:i], expr[i+1:], true
	}
	if name == "" || !isIdentStart(name[0]) {
		return &Error{"AddCommandLineSymbol", expr, "invalid name"}
	}
	for i := 1; i < len(name); i++ {
		if !isIdentChar(name[i]) {
			return &Error{"AddCommandLineSymbol", expr, "invalid name"}
		}
	}
	if _, ok := t.symbols[name]; ok {
		return &Error{"AddCommandLineSymbol", name, "already defined"}
	}
	value := 1.0
	if hasValue {
		v, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
		if err != nil {
			return &Error{"AddCommandLineSymbol", expr, "malformed value"}
		}
		value = v
	}
	t.set(name, value, false)
	t.symbols[name].isCommand = true
	return nil
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Change replaces the value of an existing scalar symbol.
func (t *Table) Change(name string, value float64) error {
	s, ok := t.symbols[name]
	if !ok {
		return &Error{"Change", name, "not defined"}
	}
	if s.isStack {
		return &Error{"Change", name, "is a stack"}
	}
	s.value = value
	return nil
}

// Get returns the value of a symbol: the scalar value, or the top of
// a stack. Reading an empty stack or an undefined symbol is an error.
func (t *Table) Get(name string) (float64, error) {
	s, ok := t.symbols[name]
	if !ok {
		return 0, &Error{"Get", name, "not defined"}
	}
	if s.isStack {
		if len(s.stack) == 0 {
			return 0, &Error{"Get", name, "empty stack"}
		}
		return s.stack[len(s.stack)-1], nil
	}
	return s.value, nil
}

// IsDefined reports whether name has any definition at all.
func (t *Table) IsDefined(name string) bool {
	_, ok := t.symbols[name]
	return ok
}

// IsStack reports whether name is a stack symbol.
func (t *Table) IsStack(name string) bool {
	s, ok := t.symbols[name]
	return ok && s.isStack
}

// IsEmpty reports whether a stack symbol currently has no entries.
func (t *Table) IsEmpty(name string) (bool, error) {
	s, ok := t.symbols[name]
	if !ok || !s.isStack {
		return false, &Error{"IsEmpty", name, "not a stack"}
	}
	return len(s.stack) == 0, nil
}

// PushStack pushes value onto name's stack, creating the stack symbol
// if it doesn't already exist.
func (t *Table) PushStack(name string, value float64) error {
	s, ok := t.symbols[name]
	if !ok {
		t.set(name, 0, false)
		s = t.symbols[name]
		s.isStack = true
	}
	if !s.isStack {
		return &Error{"PushStack", name, "not a stack"}
	}
	s.stack = append(s.stack, value)
	return nil
}

// PopStack removes and discards the top of name's stack.
func (t *Table) PopStack(name string) error {
	s, ok := t.symbols[name]
	if !ok || !s.isStack {
		return &Error{"PopStack", name, "not a stack"}
	}
	if len(s.stack) == 0 {
		return &Error{"PopStack", name, "empty stack"}
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// ResetStacks empties every stack symbol. Called between passes.
func (t *Table) ResetStacks() {
	for _, s := range t.symbols {
		if s.isStack {
			s.stack = s.stack[:0]
		}
	}
}

//
// Scope stack
//

// recordScope adds id to the permanent scope tree, parented under
// whichever scope was innermost at the moment it was opened.
func (t *Table) recordScope(id int) {
	parent := 0
	if n := len(t.scopes); n > 0 {
		parent = t.scopes[n-1].id
	}
	t.allScopes[id] = &scopeRecord{id: id, parent: parent}
	if parent == 0 {
		t.roots = append(t.roots, id)
	} else {
		pr := t.allScopes[parent]
		pr.children = append(pr.children, id)
	}
}

// PushBrace enters a new anonymous scope (a `{` block).
func (t *Table) PushBrace() {
	t.nextScope++
	t.recordScope(t.nextScope)
	t.scopes = append(t.scopes, scopeFrame{id: t.nextScope})
}

// PushFor enters a new scope for a FOR...NEXT loop and creates a
// stack symbol holding the induction variable's current value.
func (t *Table) PushFor(name string, value float64) error {
	t.nextScope++
	t.recordScope(t.nextScope)
	t.scopes = append(t.scopes, scopeFrame{id: t.nextScope, forVar: name})
	return t.PushStack(name, value)
}

// PopScope leaves the innermost scope. If it was opened by PushFor,
// the induction variable's stack entry is popped too.
func (t *Table) PopScope() error {
	if len(t.scopes) == 0 {
		return &Error{"PopScope", "", "scope stack empty"}
	}
	frame := t.scopes[len(t.scopes)-1]
	t.scopes = t.scopes[:len(t.scopes)-1]
	if frame.forVar != "" {
		return t.PopStack(frame.forVar)
	}
	return nil
}

// ScopeDepth reports how many scopes are currently open; spec's
// end-of-pass invariant requires this to be zero.
func (t *Table) ScopeDepth() int {
	return len(t.scopes)
}

// mangledName returns the name a label would be stored under if
// declared in the current scope: the bare name, with the innermost
// scope id appended after an '@' so it cannot collide with an
// enclosing scope's same-named label.
func (t *Table) mangledName(name string) string {
	if len(t.scopes) == 0 {
		return name
	}
	return fmt.Sprintf("%s@%d", name, t.scopes[len(t.scopes)-1].id)
}

// AddLabel defines name as a label in the current scope (mangling the
// stored name if scopes are open) and records it as the most recent
// label. Resolve does not consult that record: a scoped label is found
// only through its mangled name.
func (t *Table) AddLabel(name string, value float64) error {
	stored := t.mangledName(name)
	if err := t.Add(stored, value, true); err != nil {
		return err
	}
	t.lastLabel = name
	return nil
}

// Resolve looks up a label name, walking outward from the innermost
// scope to the outermost (mangled name first, then progressively less
// mangled, then the bare name) until a definition is found.
func (t *Table) Resolve(name string) (float64, error) {
	for i := len(t.scopes); i >= 0; i-- {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s@%d", name, t.scopes[i-1].id)
		}
		if _, ok := t.symbols[candidate]; ok {
			return t.Get(candidate)
		}
	}
	return 0, &Error{"Resolve", name, "not defined"}
}

// Dump renders the label symbols as a JSON-like (but not quite JSON)
// single-line list: [{'name':value L,'name2':value2 L,...}], where a
// trailing " L" marks a label. With global set it includes the
// top-level (unscoped, no '@' in its stored name) labels; with all
// set it additionally appends, as further entries in that same outer
// list, one bracketed `[{...}]` dictionary per child scope encountered
// during assembly (braces and FOR...NEXT loops alike), nested
// recursively for any scopes opened within them. This exact,
// non-standard format is an observable contract (spec §9) and must
// not be "corrected" to valid JSON.
func (t *Table) Dump(global, all bool) string {
	var b strings.Builder
	b.WriteString("[{")
	wrote := false
	if global {
		wrote = t.writeScopeLabels(&b, 0, wrote)
	}
	if all {
		for _, id := range t.roots {
			if wrote {
				b.WriteString(",")
			}
			b.WriteString(t.dumpScope(id))
			wrote = true
		}
	}
	b.WriteString("}]\n")
	return b.String()
}

// dumpScope renders one child scope (and, recursively, its own child
// scopes) as a bracketed [{...}] dictionary.
func (t *Table) dumpScope(id int) string {
	var b strings.Builder
	b.WriteString("[{")
	wrote := t.writeScopeLabels(&b, id, false)
	for _, child := range t.allScopes[id].children {
		if wrote {
			b.WriteString(",")
		}
		b.WriteString(t.dumpScope(child))
		wrote = true
	}
	b.WriteString("}]")
	return b.String()
}

// writeScopeLabels writes the label entries belonging directly to
// scope id (id == 0 means the unscoped, top-level names) into b,
// comma-separating from anything already written when wrote is true.
// It reports whether anything was written (by this call or already).
func (t *Table) writeScopeLabels(b *strings.Builder, id int, wrote bool) bool {
	suffix := ""
	if id != 0 {
		suffix = fmt.Sprintf("@%d", id)
	}
	names := make([]string, 0, len(t.order))
	for _, name := range t.order {
		if id == 0 {
			if strings.Contains(name, "@") {
				continue
			}
		} else if !strings.HasSuffix(name, suffix) {
			continue
		}
		s := t.symbols[name]
		if !s.isLabel {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if wrote {
			b.WriteString(",")
		}
		s := t.symbols[name]
		fmt.Fprintf(b, "'%s':%v", strings.TrimSuffix(name, suffix), formatValue(s.value))
		b.WriteString(" L")
		wrote = true
	}
	return wrote
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
