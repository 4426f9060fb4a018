package heap

// SymbolTable interns tag/symbol text once per heap so that structurally
// equal tags compare by a cheap integer instead of a string (grounded on
// original_source/compiler/vm/src/heap/symbol_table.rs's find_or_add). Not
// named explicitly in spec §4.7, which only calls for "small symbol index";
// this is the concrete interning table that backs it.
type SymbolTable struct {
	symbols []string
	index   map[string]SymbolId
}

// SymbolId indexes SymbolTable. The zero value is a valid id for whichever
// symbol was interned first; it carries no special meaning on its own.
type SymbolId int

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{index: make(map[string]SymbolId)}
}

// FindOrAdd interns symbol, returning its existing id if already present.
func (t *SymbolTable) FindOrAdd(symbol string) SymbolId {
	if id, ok := t.index[symbol]; ok {
		return id
	}
	id := SymbolId(len(t.symbols))
	t.symbols = append(t.symbols, symbol)
	t.index[symbol] = id
	return id
}

// Get returns the text a previously interned id stands for.
func (t *SymbolTable) Get(id SymbolId) string {
	return t.symbols[id]
}
