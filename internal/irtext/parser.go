package irtext

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/multierr"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// ParseError
// ---------------------------------------------------------------------------

// ParseError is a single error found while reading a .sir file.
type ParseError struct {
	Message string
	File    string
	Line    int
	Column  int
}

func (e ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: line %d, col %d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Parse reads one .sir source into a unit. All problems in the file are
// collected and folded into the returned error rather than stopping at the
// first; the partial unit is returned alongside for inspection.
func Parse(file, src string) (*ir.Unit, error) {
	tokens, lexErrs := Lex(src)

	p := &parser{
		file:      file,
		tokens:    tokens,
		unit:      &ir.Unit{},
		typeNames: make(map[string]uint32),
		linkSeen:  make(map[string]bool),
	}
	for _, le := range lexErrs {
		p.errors = append(p.errors, ParseError{
			Message: le.Message,
			File:    file,
			Line:    le.Line,
			Column:  le.Column,
		})
	}

	p.parseUnit()

	var err error
	for _, pe := range p.errors {
		err = multierr.Append(err, pe)
	}
	return p.unit, err
}

// ParseFile reads and parses a single file from disk.
func ParseFile(path string) (*ir.Unit, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, string(content))
}

// ParseFiles parses every path and links the results into one unit.
func ParseFiles(paths ...string) (*ir.Unit, error) {
	var units []*ir.Unit
	var err error
	for _, path := range paths {
		unit, perr := ParseFile(path)
		if perr != nil {
			err = multierr.Append(err, perr)
			continue
		}
		units = append(units, unit)
	}
	if err != nil {
		return nil, err
	}
	return ir.Merge(units...)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

type parser struct {
	file   string
	tokens []Token
	pos    int
	errors []ParseError

	unit      *ir.Unit
	typeNames map[string]uint32 // named `type` declarations
	linkSeen  map[string]bool

	// Per-function state, reset by parseFunction.
	fn            *ir.Function
	bound         map[uint32]bool
	firstRegUse   map[uint32]Token
	firstConstUse map[uint32]Token
}

// ---- Token helpers ----

func (p *parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Type: EOF}
}

func (p *parser) peekAt(offset int) Token {
	idx := p.pos + offset
	if idx >= 0 && idx < len(p.tokens) {
		return p.tokens[idx]
	}
	return Token{Type: EOF}
}

func (p *parser) advance() Token {
	tok := p.peek()
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) check(typ string) bool {
	return p.peek().Type == typ
}

func (p *parser) expect(typ string, msg string) (Token, bool) {
	if p.check(typ) {
		return p.advance(), true
	}
	tok := p.peek()
	p.errorAt(tok, "%s (got %s %q)", msg, tok.Type, tok.Value)
	return tok, false
}

func (p *parser) errorAt(tok Token, format string, args ...interface{}) {
	p.errors = append(p.errors, ParseError{
		Message: fmt.Sprintf(format, args...),
		File:    p.file,
		Line:    tok.Line,
		Column:  tok.Column,
	})
}

func (p *parser) atLineEnd() bool {
	return p.check(NEWLINE) || p.check(EOF)
}

func (p *parser) skipNewlines() {
	for p.check(NEWLINE) {
		p.advance()
	}
}

// skipLine discards everything up to and including the next newline. Used to
// resynchronize after an error.
func (p *parser) skipLine() {
	for !p.atLineEnd() {
		p.advance()
	}
	if p.check(NEWLINE) {
		p.advance()
	}
}

// endOfLine consumes the newline terminating an instruction, complaining
// about any stray tokens before it.
func (p *parser) endOfLine() {
	if !p.atLineEnd() {
		tok := p.peek()
		p.errorAt(tok, "unexpected %s %q at end of line", tok.Type, tok.Value)
	}
	p.skipLine()
}

// ---- Top level ----

func (p *parser) parseUnit() {
	p.skipNewlines()
	for !p.check(EOF) {
		tok := p.peek()
		if tok.Type != IDENT {
			p.errorAt(tok, "expected 'type' or 'fn' at top level (got %s %q)", tok.Type, tok.Value)
			p.skipLine()
			p.skipNewlines()
			continue
		}
		switch tok.Value {
		case "type":
			p.parseTypeDecl()
		case "fn":
			p.parseFunction()
		default:
			p.errorAt(tok, "expected 'type' or 'fn' at top level, got %q", tok.Value)
			p.skipLine()
		}
		p.skipNewlines()
	}
}

// parseTypeDecl handles: type <name> <primitive>
func (p *parser) parseTypeDecl() {
	p.advance() // consume 'type'

	name, ok := p.expect(IDENT, "expected type name")
	if !ok {
		p.skipLine()
		return
	}
	if _, isPrim := ir.PrimitiveFromName(name.Value); isPrim {
		p.errorAt(name, "type name %q shadows a primitive", name.Value)
	}

	primTok, ok := p.expect(IDENT, "expected primitive type")
	if !ok {
		p.skipLine()
		return
	}
	prim, isPrim := ir.PrimitiveFromName(primTok.Value)
	if !isPrim {
		p.errorAt(primTok, "unknown primitive type %q", primTok.Value)
		p.skipLine()
		return
	}

	p.typeNames[name.Value] = p.unit.InternType(ir.TypeDef{Name: name.Value, Prim: prim})
	p.endOfLine()
}

// resolveType maps a type name to its table index, interning primitives on
// first use. Named declarations win only for non-primitive spellings.
func (p *parser) resolveType(tok Token) (uint32, bool) {
	if prim, ok := ir.PrimitiveFromName(tok.Value); ok {
		return p.unit.InternType(ir.TypeDef{Name: tok.Value, Prim: prim}), true
	}
	if idx, ok := p.typeNames[tok.Value]; ok {
		return idx, true
	}
	p.errorAt(tok, "unknown type %q", tok.Value)
	return 0, false
}

// ---- Function header ----

// parseFunction handles: fn <name|_> [cc=…] [params=N] [link=<sym>] … end
func (p *parser) parseFunction() {
	fnTok := p.advance() // consume 'fn'

	nameTok, ok := p.expect(IDENT, "expected function name (or _)")
	if !ok {
		p.skipLine()
		return
	}

	p.fn = &ir.Function{CallConv: ir.CCDefault}
	p.bound = make(map[uint32]bool)
	p.firstRegUse = make(map[uint32]Token)
	p.firstConstUse = make(map[uint32]Token)

	if nameTok.Value != "_" {
		p.fn.Name = nameTok.Value
		p.fn.LinkName = nameTok.Value
	}

	// Header options: key=value pairs in any order.
	for p.check(IDENT) && p.peekAt(1).Type == EQUALS {
		key := p.advance()
		p.advance() // consume '='
		switch key.Value {
		case "cc":
			val, ok := p.expect(IDENT, "expected calling convention name")
			if !ok {
				continue
			}
			cc, known := ir.CallConvFromName(val.Value)
			if !known {
				p.errorAt(val, "unknown calling convention %q", val.Value)
				continue
			}
			p.fn.CallConv = cc
		case "params":
			val, ok := p.expect(INT, "expected parameter count")
			if !ok {
				continue
			}
			n, err := strconv.ParseUint(val.Value, 0, 32)
			if err != nil {
				p.errorAt(val, "invalid parameter count %q", val.Value)
				continue
			}
			p.fn.Params = uint32(n)
		case "link":
			val, ok := p.expect(IDENT, "expected link symbol")
			if !ok {
				continue
			}
			p.fn.LinkName = val.Value
		default:
			p.errorAt(key, "unknown function option %q", key.Value)
			if !p.atLineEnd() {
				p.advance()
			}
		}
	}
	p.endOfLine()

	if p.fn.LinkName != "" {
		if p.linkSeen[p.fn.LinkName] {
			p.errorAt(fnTok, "duplicate link name %q", p.fn.LinkName)
		}
		p.linkSeen[p.fn.LinkName] = true
	}

	p.parseBody(fnTok)
	p.finishFunction(fnTok)
	p.unit.Functions = append(p.unit.Functions, p.fn)
}

// parseBody consumes instruction lines until `end`.
func (p *parser) parseBody(fnTok Token) {
	for {
		p.skipNewlines()
		if p.check(EOF) {
			p.errorAt(p.peek(), "missing 'end' for function started at line %d", fnTok.Line)
			return
		}
		head := p.peek()
		if head.Type != IDENT {
			p.errorAt(head, "expected instruction (got %s %q)", head.Type, head.Value)
			p.skipLine()
			continue
		}
		switch head.Value {
		case "end":
			p.advance()
			p.endOfLine()
			return
		case "fn", "type":
			// A new top-level directive inside a body means the `end` was
			// forgotten. Leave the token for the caller.
			p.errorAt(head, "missing 'end' before %q", head.Value)
			return
		}
		p.parseInstruction()
	}
}

// finishFunction reports registers and constants that were referenced or
// skipped without a bind/const declaration.
func (p *parser) finishFunction(fnTok Token) {
	for i := range p.fn.RegTypes {
		if !p.bound[uint32(i)] {
			tok, used := p.firstRegUse[uint32(i)]
			if used {
				p.errorAt(tok, "register %%%d used but never bound", i)
			} else {
				p.errorAt(fnTok, "register %%%d never bound (binds must be dense from %%0)", i)
			}
		}
	}
	for idx, tok := range p.firstRegUse {
		if int(idx) >= len(p.fn.RegTypes) {
			p.errorAt(tok, "register %%%d used but never bound", idx)
		}
	}
	for idx, tok := range p.firstConstUse {
		if int(idx) >= len(p.fn.Consts) {
			p.errorAt(tok, "constant $%d is not declared", idx)
		}
	}
}

// ---- Instructions ----

var threeOps = map[string]ir.Opcode{
	"add":  ir.OpAdd,
	"sub":  ir.OpSub,
	"mul":  ir.OpMul,
	"div":  ir.OpDiv,
	"band": ir.OpBand,
	"bor":  ir.OpBor,
	"bxor": ir.OpBxor,
	"shl":  ir.OpShl,
	"shr":  ir.OpShr,
	"eq":   ir.OpEq,
	"neq":  ir.OpNeq,
	"lt":   ir.OpLt,
	"lte":  ir.OpLte,
	"gt":   ir.OpGt,
	"gte":  ir.OpGte,
}

func (p *parser) parseInstruction() {
	head := p.advance()

	if op, ok := threeOps[head.Value]; ok {
		dst, okDst := p.expectRegister("expected destination register")
		a, okA := p.expectOperand()
		b, okB := p.expectOperand()
		if okDst && okA && okB {
			p.emit(ir.Instruction{Op: op, Dst: dst, A: a, B: b})
		}
		p.endOfLine()
		return
	}

	switch head.Value {
	case "bind":
		p.parseBind()
	case "const":
		p.parseConst()
	case "mov", "load", "cast":
		op := map[string]ir.Opcode{"mov": ir.OpMove, "load": ir.OpLoad, "cast": ir.OpCast}[head.Value]
		dst, okDst := p.expectRegister("expected destination register")
		a, okA := p.expectOperand()
		if okDst && okA {
			p.emit(ir.Instruction{Op: op, Dst: dst, A: a})
		}
		p.endOfLine()
	case "store":
		ptr, okPtr := p.expectOperand()
		val, okVal := p.expectOperand()
		if okPtr && okVal {
			p.emit(ir.Instruction{Op: ir.OpStore, A: ptr, B: val})
		}
		p.endOfLine()
	case "branch", "branchnot":
		op := ir.OpBranch
		if head.Value == "branchnot" {
			op = ir.OpBranchNot
		}
		cond, okCond := p.expectOperand()
		target, okTarget := p.expectLabelRef()
		if okCond && okTarget {
			p.emit(ir.Instruction{Op: op, A: cond, Target: target})
		}
		p.endOfLine()
	case "jump":
		target, ok := p.expectLabelRef()
		if ok {
			p.emit(ir.Instruction{Op: ir.OpJump, Target: target})
		}
		p.endOfLine()
	case "label":
		target, ok := p.expectLabelRef()
		if ok {
			p.emit(ir.Instruction{Op: ir.OpLabel, Target: target})
		}
		p.endOfLine()
	case "call":
		p.parseCallLike(ir.OpCall)
	case "syscall":
		p.parseCallLike(ir.OpSyscall)
	case "ret":
		value := ir.None()
		if !p.atLineEnd() {
			v, ok := p.expectOperand()
			if !ok {
				p.endOfLine()
				return
			}
			value = v
		}
		p.emit(ir.Instruction{Op: ir.OpReturn, A: value})
		p.endOfLine()
	default:
		p.errorAt(head, "unknown instruction %q", head.Value)
		p.skipLine()
	}
}

// parseBind handles: bind %i <type>
func (p *parser) parseBind() {
	regTok, ok := p.expect(REGISTER, "expected register to bind")
	if !ok {
		p.skipLine()
		return
	}
	index := p.regIndex(regTok)

	typeTok, ok := p.expect(IDENT, "expected type name")
	if !ok {
		p.skipLine()
		return
	}
	typeIdx, _ := p.resolveType(typeTok)

	if p.bound[index] {
		p.errorAt(regTok, "register %%%d bound twice", index)
	}
	p.bound[index] = true

	for uint32(len(p.fn.RegTypes)) <= index {
		p.fn.RegTypes = append(p.fn.RegTypes, 0)
	}
	p.fn.RegTypes[index] = typeIdx

	p.emit(ir.Instruction{Op: ir.OpBind, Dst: ir.Reg(index), Type: typeIdx})
	p.endOfLine()
}

// parseConst handles: const $i <type> <int>|"<str>"|<symbol>
func (p *parser) parseConst() {
	cref, ok := p.expect(CONSTREF, "expected constant index")
	if !ok {
		p.skipLine()
		return
	}
	index := p.constIndex(cref)
	if int(index) != len(p.fn.Consts) {
		p.errorAt(cref, "constant $%d declared out of order (expected $%d)", index, len(p.fn.Consts))
	}

	typeTok, ok := p.expect(IDENT, "expected type name")
	if !ok {
		p.skipLine()
		return
	}
	typeIdx, _ := p.resolveType(typeTok)

	c := ir.Constant{Type: typeIdx}
	valTok := p.peek()
	switch valTok.Type {
	case INT:
		n, err := strconv.ParseInt(valTok.Value, 0, 64)
		if err != nil {
			p.errorAt(valTok, "invalid integer literal %q", valTok.Value)
			p.skipLine()
			return
		}
		p.advance()
		c.Kind = ir.ConstInteger
		c.Int = n
	case STRING:
		p.advance()
		c.Kind = ir.ConstString
		c.Str = valTok.Value
	case IDENT:
		p.advance()
		c.Kind = ir.ConstSymbol
		c.Str = valTok.Value
	default:
		p.errorAt(valTok, "expected constant value (integer, string, or symbol), got %s", valTok.Type)
		p.skipLine()
		return
	}

	p.fn.Consts = append(p.fn.Consts, c)
	p.endOfLine()
}

// parseCallLike handles: call[:cc] <dst|_> <callee> [args…] and the syscall
// twin, where the callee position holds the syscall number.
func (p *parser) parseCallLike(op ir.Opcode) {
	cc := ir.CCDefault
	if p.check(COLON) {
		p.advance()
		val, ok := p.expect(IDENT, "expected calling convention after ':'")
		if ok {
			known := false
			cc, known = ir.CallConvFromName(val.Value)
			if !known {
				p.errorAt(val, "unknown calling convention %q", val.Value)
				cc = ir.CCDefault
			}
		}
	}

	dst := ir.None()
	switch {
	case p.check(IDENT) && p.peek().Value == "_":
		p.advance()
	case p.check(REGISTER):
		tok := p.advance()
		dst = ir.Reg(p.regIndex(tok))
	default:
		tok := p.peek()
		p.errorAt(tok, "expected destination register or _ (got %s %q)", tok.Type, tok.Value)
		p.skipLine()
		return
	}

	callee, ok := p.expectOperand()
	if !ok {
		p.endOfLine()
		return
	}

	var args []ir.Operand
	for !p.atLineEnd() {
		arg, ok := p.expectOperand()
		if !ok {
			p.endOfLine()
			return
		}
		args = append(args, arg)
	}

	p.emit(ir.Instruction{Op: op, Dst: dst, A: callee, Args: args, CC: cc})
	p.endOfLine()
}

// ---- Operand helpers ----

func (p *parser) emit(ins ir.Instruction) {
	p.fn.Instrs = append(p.fn.Instrs, ins)
}

func (p *parser) regIndex(tok Token) uint32 {
	n, _ := strconv.ParseUint(tok.Value, 10, 32)
	return uint32(n)
}

func (p *parser) constIndex(tok Token) uint32 {
	n, _ := strconv.ParseUint(tok.Value, 10, 32)
	return uint32(n)
}

// expectRegister consumes a %N operand and records its use.
func (p *parser) expectRegister(msg string) (ir.Operand, bool) {
	tok, ok := p.expect(REGISTER, msg)
	if !ok {
		return ir.None(), false
	}
	index := p.regIndex(tok)
	if _, seen := p.firstRegUse[index]; !seen {
		p.firstRegUse[index] = tok
	}
	return ir.Reg(index), true
}

// expectOperand consumes a %N or $N operand and records its use.
func (p *parser) expectOperand() (ir.Operand, bool) {
	tok := p.peek()
	switch tok.Type {
	case REGISTER:
		return p.expectRegister("expected operand")
	case CONSTREF:
		p.advance()
		index := p.constIndex(tok)
		if _, seen := p.firstConstUse[index]; !seen {
			p.firstConstUse[index] = tok
		}
		return ir.Const(index), true
	default:
		p.errorAt(tok, "expected operand %%N or $N (got %s %q)", tok.Type, tok.Value)
		return ir.None(), false
	}
}

func (p *parser) expectLabelRef() (uint32, bool) {
	tok, ok := p.expect(LABELREF, "expected label @N")
	if !ok {
		return 0, false
	}
	n, _ := strconv.ParseUint(tok.Value, 10, 32)
	return uint32(n), true
}
