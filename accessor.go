package douki

// Accessor reads and writes one live value of an entity. Position, rotation,
// animation parameters and plain component fields of a host engine all plug
// in through this interface.
type Accessor interface {
	Get(e Entity) Value
	Set(e Entity, v Value)
}

// AccessorFuncs adapts a getter/setter pair to Accessor. A nil SetFunc makes
// the value read-only on this peer.
type AccessorFuncs struct {
	GetFunc func(e Entity) Value
	SetFunc func(e Entity, v Value)
}

func (a AccessorFuncs) Get(e Entity) Value { return a.GetFunc(e) }

func (a AccessorFuncs) Set(e Entity, v Value) {
	if a.SetFunc != nil {
		a.SetFunc(e, v)
	}
}

// tableAccessor backs a value with EntityTable storage.
type tableAccessor struct {
	table *EntityTable
	index uint8
}

func (a tableAccessor) Get(e Entity) Value    { return a.table.Get(e, a.index) }
func (a tableAccessor) Set(e Entity, v Value) { a.table.Set(e, a.index, v) }
