package bytecode

import (
	"encoding/binary"

	"github.com/candy-lang/candy-sub004/internal/lir"
)

// Chunk is the flat instruction vector plus a symbol table and a pointer
// table from body ids to entry offsets (spec §3 Bytecode: "a flat vector of
// instructions plus a pointer table from body IDs to entry offsets and a
// symbol table"). Constants carry straight through from LIR — the bytecode
// layer never re-interns them — so PushConstant's operand indexes Constants
// directly (spec §4.6: "Constants referenced more than once are emitted
// once into a pool; each PushConstant indexes the pool.").
//
// Grounded on the teacher's Chunk (flat []byte code + side Constants slice);
// DebugInfo survives verbatim since the bytecode compiler still needs a
// per-instruction source span for spec §7's diagnostics contract.
type Chunk struct {
	Code        []byte
	Constants   []lir.Constant
	Debug       []DebugInfo
	BodyOffsets []int          // BodyId -> entry offset into Code
	ParamCounts []int          // BodyId -> parameter count, for materializing pooled ConstFunction values
	Symbols     map[string]int // exported name -> entry offset of the top-level body that produces it
}

// DebugInfo stores the source span an instruction originated from, keyed by
// the HirId carried alongside it where the compiler has one.
type DebugInfo struct {
	Module string
	Start  int
	End    int
}

func NewChunk() *Chunk {
	return &Chunk{Symbols: make(map[string]int)}
}

func (c *Chunk) WriteOp(op OpCode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Debug = append(c.Debug, DebugInfo{})
	return offset
}

func (c *Chunk) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	c.Code = append(c.Code, buf[:]...)
	c.Debug = append(c.Debug, DebugInfo{}, DebugInfo{}, DebugInfo{}, DebugInfo{})
}

func (c *Chunk) WriteInt64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	c.Code = append(c.Code, buf[:]...)
	for i := 0; i < 8; i++ {
		c.Debug = append(c.Debug, DebugInfo{})
	}
}

func (c *Chunk) WriteString(s string) {
	c.WriteUint32(uint32(len(s)))
	c.Code = append(c.Code, s...)
	for i := 0; i < len(s); i++ {
		c.Debug = append(c.Debug, DebugInfo{})
	}
}

func (c *Chunk) AddConstant(v lir.Constant) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

func ReadUint32(code []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(code[offset : offset+4])
}

func ReadInt64(code []byte, offset int) int64 {
	return int64(binary.LittleEndian.Uint64(code[offset : offset+8]))
}

func ReadString(code []byte, offset int) (string, int) {
	n := int(ReadUint32(code, offset))
	start := offset + 4
	return string(code[start : start+n]), start + n
}
