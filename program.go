package hana

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytecodeMagic is the 6-byte file header described in §6: "H a r u
// / /".
var BytecodeMagic = [6]byte{'H', 'a', 'r', 'u', '/', '/'}

// encoder is a small append-only byte buffer with the big-endian
// writers every Instruction needs (§4.2: "big-endian operands").
type encoder struct{ buf []byte }

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) bytes(v []byte) { e.buf = append(e.buf, v...) }

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }

// Program is the compiler's output: a byte stream ready for the VM,
// plus the side tables the stream's operands index into. Names holds
// global/member/index-constant/`use`-path identifiers (referenced by
// a compile-time-resolved u16 index rather than embedded inline,
// unlike string literals which follow §4.2's PushStr/PushStrInterned
// rule exactly).
type Program struct {
	Code      []byte
	Interns   *InternTable
	Names     []string
	namesByID map[string]uint16
	SourceMap SourceMap
	File      string

	files       []string
	lineIndexes []*LineIndex
}

func NewProgram(file string, interns *InternTable) *Program {
	return &Program{Interns: interns, namesByID: map[string]uint16{}, File: file}
}

// registerFile assigns a stable file id for name, pairing it with li
// so a later SourceMapEntry.FileID can be turned back into a Span. A
// program accumulates one entry per source text compiled into it: the
// main chunk, plus one per distinct file a `use` or Eval pulls in.
func (p *Program) registerFile(name string, li *LineIndex) int {
	id := len(p.files)
	p.files = append(p.files, name)
	p.lineIndexes = append(p.lineIndexes, li)
	return id
}

// mergeSourceMap appends entries produced by a compile relative to
// byte 0 into the program's shared SourceMap, shifting each range by
// base — the same shift AssembleAt applies to the instructions
// themselves when splicing a module's or Eval's code onto the end of
// an already-running program.
func (p *Program) mergeSourceMap(entries []SourceMapEntry, base int) {
	for _, e := range entries {
		e.Bytecode.Start += base
		e.Bytecode.End += base
		p.SourceMap.Add(e)
	}
}

// Locate resolves a bytecode index back to a human-readable span: the
// covering SourceMap entry picks which file the index came from, and
// that file's LineIndex turns the entry's source Range into a Span.
func (p *Program) Locate(bcIndex int) (Span, bool) {
	entry, ok := p.SourceMap.Lookup(bcIndex)
	if !ok {
		return Span{}, false
	}
	if entry.FileID < 0 || entry.FileID >= len(p.lineIndexes) {
		return Span{}, false
	}
	li := p.lineIndexes[entry.FileID]
	if li == nil {
		return Span{}, false
	}
	return li.Span(entry.Source), true
}

// NameID returns the stable id for name, assigning one if this is the
// first time it has been seen in this program.
func (p *Program) NameID(name string) uint16 {
	if id, ok := p.namesByID[name]; ok {
		return id
	}
	id := uint16(len(p.Names))
	p.Names = append(p.Names, name)
	p.namesByID[name] = id
	return id
}

func (p *Program) Name(id uint16) string {
	if int(id) >= len(p.Names) {
		return ""
	}
	return p.Names[id]
}

// Assemble lays out instrs into a byte stream in two passes: every
// Instruction's Size() is independent of where labels resolve (all
// jump operands are fixed-width absolute addresses), so the first pass
// computes every label offset up front and the second emits each
// instruction exactly once.
func Assemble(instrs []Instruction) ([]byte, error) {
	offsets := map[int]uint32{}
	cursor := uint32(0)
	for _, ins := range instrs {
		if lbl, ok := ins.(ILabel); ok {
			offsets[lbl.ID] = cursor
			continue
		}
		cursor += uint32(ins.Size())
	}

	resolve := func(l ILabel) uint32 {
		off, ok := offsets[l.ID]
		if !ok {
			panic(fmt.Sprintf("unresolved label %d", l.ID))
		}
		return off
	}

	enc := &encoder{}
	for _, ins := range instrs {
		ins.emit(enc, resolve)
	}
	return enc.buf, nil
}

// AssembleAt is Assemble for code that will be spliced in after an
// existing stream of base bytes, used by `use` to append an imported
// module's bytecode after the importer's: every absolute jump target
// instrs contains must land base bytes further into the final file
// than Assemble alone would produce.
func AssembleAt(instrs []Instruction, base uint32) ([]byte, error) {
	offsets := map[int]uint32{}
	cursor := base
	for _, ins := range instrs {
		if lbl, ok := ins.(ILabel); ok {
			offsets[lbl.ID] = cursor
			continue
		}
		cursor += uint32(ins.Size())
	}

	resolve := func(l ILabel) uint32 {
		off, ok := offsets[l.ID]
		if !ok {
			panic(fmt.Sprintf("unresolved label %d", l.ID))
		}
		return off
	}

	enc := &encoder{}
	for _, ins := range instrs {
		ins.emit(enc, resolve)
	}
	return enc.buf, nil
}

// Dump writes the bytecode file format from §6: the 6-byte magic,
// followed by the Names and Interns side tables the code stream's
// GetGlobal/SetGlobal/Use/PushStrInterned operands index into, then
// the code stream itself. Without those tables a reloaded program
// can't resolve a single name or interned literal, so they travel
// with the dump rather than the code stream alone.
func (p *Program) Dump() []byte {
	enc := &encoder{}
	enc.bytes(BytecodeMagic[:])

	enc.u32(uint32(len(p.Names)))
	for _, name := range p.Names {
		enc.u32(uint32(len(name)))
		enc.bytes([]byte(name))
	}

	enc.u32(uint32(len(p.Interns.payloads)))
	for _, payload := range p.Interns.payloads {
		enc.u32(uint32(len(payload)))
		enc.bytes([]byte(payload))
	}

	enc.u32(uint32(len(p.Code)))
	enc.bytes(p.Code)

	return enc.buf
}

// decoder is Dump's reverse: a cursor over a byte slice with the
// matching big-endian readers.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) u32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, fmt.Errorf("bytecode file truncated")
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) bytes(n uint32) ([]byte, error) {
	if d.pos+int(n) > len(d.buf) {
		return nil, fmt.Errorf("bytecode file truncated")
	}
	v := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return v, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LoadBytecode validates the magic and reconstructs a Program from a
// buffer Dump produced: the Names/Interns side tables followed by the
// code stream, per the `-b` CLI flag in §6.
func LoadBytecode(data []byte, file string) (*Program, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bytecode file too short")
	}
	for i := 0; i < 6; i++ {
		if data[i] != BytecodeMagic[i] {
			return nil, fmt.Errorf("bad bytecode magic")
		}
	}

	d := &decoder{buf: data, pos: 6}

	nameCount, err := d.u32()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, nameCount)
	namesByID := make(map[string]uint16, nameCount)
	for i := uint32(0); i < nameCount; i++ {
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		namesByID[name] = uint16(i)
	}

	internCount, err := d.u32()
	if err != nil {
		return nil, err
	}
	interns := NewInternTable()
	for i := uint32(0); i < internCount; i++ {
		payload, err := d.string()
		if err != nil {
			return nil, err
		}
		interns.payloads = append(interns.payloads, payload)
		interns.ids[payload] = uint16(i)
	}

	codeLen, err := d.u32()
	if err != nil {
		return nil, err
	}
	code, err := d.bytes(codeLen)
	if err != nil {
		return nil, err
	}

	prog := NewProgram(file, interns)
	prog.Names = names
	prog.namesByID = namesByID
	prog.Code = append([]byte(nil), code...)
	return prog, nil
}
