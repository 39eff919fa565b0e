package douki

// Entity is a stable handle to a replicated entity. It combines a recyclable
// 32-bit ID with a 32-bit version so that a handle kept after Remove never
// resolves to the entity that later reuses the ID.
type Entity struct {
	// ID is the slot index inside the EntityTable.
	ID uint32
	// Version is the generation of the slot at creation time.
	Version uint32
}

// ArchetypeID names a schema of synchronized values.
type ArchetypeID uint16

// AuthorityID identifies a peer that can own entities.
type AuthorityID uint16

// entityMeta holds the state of one slot.
type entityMeta struct {
	values    []Value // live storage for values without an external accessor
	version   uint32  // current version, 0 if the slot is free
	archetype ArchetypeID
	owner     AuthorityID
}

// EntityTable resolves entity handles to their archetype, their owner and
// the live value storage that backs any value without an external accessor.
// Companions hold handles into the table rather than references to host
// objects. The table is not safe for concurrent mutation.
type EntityTable struct {
	freeIDs         []uint32     // stack of recycled IDs
	metas           []entityMeta // indexed by entity ID
	capacity        int
	nextVersion     uint32
	mutationVersion uint32
	live            int
}

// NewEntityTable creates a table with room for initialCapacity entities
// before it has to grow.
//
// Parameters:
//   - initialCapacity: The number of slots to pre-allocate.
//
// Returns:
//   - The newly created table.
func NewEntityTable(initialCapacity int) *EntityTable {
	t := &EntityTable{
		capacity:    initialCapacity,
		freeIDs:     make([]uint32, initialCapacity),
		metas:       make([]entityMeta, initialCapacity),
		nextVersion: 1,
	}
	for i := range t.freeIDs {
		t.freeIDs[i] = uint32(initialCapacity - 1 - i)
	}
	return t
}

// Create allocates an entity of schema s owned by owner. Every value starts
// at its kind's zero value.
func (t *EntityTable) Create(s *Schema, owner AuthorityID) Entity {
	if len(t.freeIDs) == 0 {
		t.expand(1)
	}
	last := len(t.freeIDs) - 1
	id := t.freeIDs[last]
	t.freeIDs = t.freeIDs[:last]

	meta := &t.metas[id]
	meta.version = t.nextVersion
	meta.archetype = s.ID
	meta.owner = owner
	if cap(meta.values) >= len(s.fields) {
		meta.values = meta.values[:len(s.fields)]
	} else {
		meta.values = make([]Value, len(s.fields))
	}
	for i := range s.fields {
		meta.values[i] = ZeroValue(s.fields[i].Kind)
	}
	t.nextVersion++
	t.mutationVersion++
	t.live++
	return Entity{ID: id, Version: meta.version}
}

// Remove frees e's slot. Removing a stale handle is a no-op.
func (t *EntityTable) Remove(e Entity) {
	if !t.IsValid(e) {
		return
	}
	meta := &t.metas[e.ID]
	meta.version = 0
	meta.values = meta.values[:0]
	t.freeIDs = append(t.freeIDs, e.ID)
	t.mutationVersion++
	t.live--
}

// IsValid reports whether e still refers to a live entity.
func (t *EntityTable) IsValid(e Entity) bool {
	if int(e.ID) >= len(t.metas) {
		return false
	}
	v := t.metas[e.ID].version
	return v != 0 && v == e.Version
}

// Len is the number of live entities.
func (t *EntityTable) Len() int { return t.live }

// Archetype returns the schema id e was created with.
func (t *EntityTable) Archetype(e Entity) ArchetypeID {
	return t.meta(e).archetype
}

// Owner returns the authority that currently owns e.
func (t *EntityTable) Owner(e Entity) AuthorityID {
	return t.meta(e).owner
}

// SetOwner transfers ownership of e.
func (t *EntityTable) SetOwner(e Entity, owner AuthorityID) {
	t.meta(e).owner = owner
	t.mutationVersion++
}

// Get reads value index of e from table storage.
func (t *EntityTable) Get(e Entity, index uint8) Value {
	m := t.meta(e)
	if int(index) >= len(m.values) {
		panic("douki: value index out of range")
	}
	return m.values[index]
}

// Set writes value index of e into table storage. The kind must match the
// schema's declared kind.
func (t *EntityTable) Set(e Entity, index uint8, v Value) {
	m := t.meta(e)
	if int(index) >= len(m.values) {
		panic("douki: value index out of range")
	}
	if m.values[index].Kind != v.Kind {
		panic("douki: cannot store " + v.Kind.String() + " into " + m.values[index].Kind.String() + " value")
	}
	m.values[index] = v
}

// MutationVersion changes whenever an entity is created, removed or
// changes owner.
func (t *EntityTable) MutationVersion() uint32 { return t.mutationVersion }

func (t *EntityTable) meta(e Entity) *entityMeta {
	if !t.IsValid(e) {
		panic("douki: stale or unknown entity handle")
	}
	return &t.metas[e.ID]
}

// expand doubles the slot count, or grows by additional if that is larger.
func (t *EntityTable) expand(additional int) {
	oldCap := t.capacity
	newCap := oldCap * 2
	if newCap == 0 {
		newCap = 1
	}
	if newCap < oldCap+additional {
		newCap = oldCap + additional
	}
	delta := newCap - oldCap
	t.metas = append(t.metas, make([]entityMeta, delta)...)
	newFree := make([]uint32, delta)
	for i := range delta {
		newFree[i] = uint32(newCap - 1 - i)
	}
	t.freeIDs = append(t.freeIDs, newFree...)
	t.capacity = newCap
}
