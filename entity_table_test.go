package douki

import (
	"testing"
)

func doorSchema(t testing.TB) *Schema {
	t.Helper()
	s, err := NewSchema(SchemaDef{ID: 2, Name: "door", Values: []ValueDescriptor{
		{Index: 0, Name: "angle", Kind: KindFloat32},
		{Index: 1, Name: "locked", Kind: KindBool},
		{Index: 2, Name: "hinge", Kind: KindQuaternion},
	}}, DefaultConfig())
	if err != nil {
		t.Fatalf("door schema: %v", err)
	}
	return s
}

// go test -run ^TestEntityTableCreate$ . -count 1
func TestEntityTableCreate(t *testing.T) {
	table := NewEntityTable(2)
	s := doorSchema(t)
	e1 := table.Create(s, 4)
	e2 := table.Create(s, 5)

	if e1.ID != 0 {
		t.Errorf("expected first entity ID to be 0, got %d", e1.ID)
	}
	if e1.Version != 1 {
		t.Errorf("expected first entity version to be 1, got %d", e1.Version)
	}
	if e2.ID != 1 {
		t.Errorf("expected second entity ID to be 1, got %d", e2.ID)
	}
	if table.Len() != 2 {
		t.Errorf("expected 2 live entities, got %d", table.Len())
	}
	if table.Archetype(e1) != 2 || table.Owner(e2) != 5 {
		t.Errorf("expected archetype 2 and owner 5, got %d and %d", table.Archetype(e1), table.Owner(e2))
	}
	if q := table.Get(e1, 2).Quat(); q != QuatIdentity {
		t.Errorf("expected identity rotation, got %v", q)
	}
}

// go test -run ^TestEntityTableGrows$ . -count 1
func TestEntityTableGrows(t *testing.T) {
	table := NewEntityTable(1)
	s := doorSchema(t)
	var last Entity
	for range 10 {
		last = table.Create(s, 0)
	}
	if last.ID != 9 {
		t.Errorf("expected ID 9, got %d", last.ID)
	}
	if table.Len() != 10 {
		t.Errorf("expected 10 live entities, got %d", table.Len())
	}
}

// go test -run ^TestEntityTableRemoveRecyclesIDs$ . -count 1
func TestEntityTableRemoveRecyclesIDs(t *testing.T) {
	table := NewEntityTable(4)
	s := doorSchema(t)
	e1 := table.Create(s, 0)
	e2 := table.Create(s, 0)
	table.Set(e2, 0, NewFloat32(1.5))

	before := table.MutationVersion()
	table.Remove(e1)
	if table.IsValid(e1) {
		t.Fatal("removed entity should be invalid")
	}
	if table.MutationVersion() == before {
		t.Error("expected mutation version to change on removal")
	}
	table.Remove(e1) // stale handles are ignored

	e3 := table.Create(s, 0)
	if e3.ID != e1.ID {
		t.Errorf("expected recycled ID %d, got %d", e1.ID, e3.ID)
	}
	if e3.Version == e1.Version {
		t.Error("recycled entity must get a new version")
	}
	if table.IsValid(e1) {
		t.Error("old handle must not resolve to the recycled slot")
	}
	if got := table.Get(e2, 0).Float(); got != 1.5 {
		t.Errorf("data for e2 was corrupted, got %v", got)
	}
	if got := table.Get(e3, 0).Float(); got != 0 {
		t.Errorf("recycled slot should start zeroed, got %v", got)
	}
}

// go test -run ^TestEntityTableSetKindMismatchPanics$ . -count 1
func TestEntityTableSetKindMismatchPanics(t *testing.T) {
	table := NewEntityTable(1)
	e := table.Create(doorSchema(t), 0)
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic storing a bool into a float32 value")
		}
	}()
	table.Set(e, 0, NewBool(true))
}

// go test -run ^TestEntityTableStaleHandlePanics$ . -count 1
func TestEntityTableStaleHandlePanics(t *testing.T) {
	table := NewEntityTable(1)
	e := table.Create(doorSchema(t), 0)
	table.Remove(e)
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic reading a removed entity")
		}
	}()
	table.Get(e, 0)
}

// go test -run ^TestAccessorFuncsReadOnly$ . -count 1
func TestAccessorFuncsReadOnly(t *testing.T) {
	calls := 0
	a := AccessorFuncs{GetFunc: func(Entity) Value { calls++; return NewInt16(-3) }}
	a.Set(Entity{}, NewInt16(7))
	if v := a.Get(Entity{}); v.Int() != -3 {
		t.Errorf("expected -3, got %d", v.Int())
	}
	if calls != 1 {
		t.Errorf("expected 1 get call, got %d", calls)
	}
}

func BenchmarkEntityTableGetSet(b *testing.B) {
	table := NewEntityTable(1024)
	s := doorSchema(b)
	entities := make([]Entity, 1024)
	for i := range entities {
		entities[i] = table.Create(s, 0)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := entities[i&1023]
		table.Set(e, 0, table.Get(e, 0).Add(NewFloat32(1)))
	}
}
