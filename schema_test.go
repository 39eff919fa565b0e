package douki

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaResolvesCodecs(t *testing.T) {
	s, err := NewSchema(shipDefs()[0], DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 6, s.Len())

	id, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, shipIdentity, id)
	assert.True(t, s.Descriptor(shipOwner).IsOwnership())

	assert.Equal(t, 54, s.Codec(shipPosition).BitSize())
	assert.Equal(t, 18*3, s.VelocityCodec(shipPosition).BitSize())
	assert.Equal(t, KindVector3, s.VelocityCodec(shipRotation).Kind())
	assert.Nil(t, s.VelocityCodec(shipThrottle))
	assert.Panics(t, func() { s.Codec(6) })
}

func TestNewSchemaPlansBundles(t *testing.T) {
	s, err := NewSchema(shipDefs()[0], DefaultConfig())
	require.NoError(t, err)
	bundles := s.Bundles()
	require.Len(t, bundles, 2)
	assert.Equal(t, Reliable, bundles[0].Reliability)
	assert.Equal(t, []uint8{shipOwner, shipBoosting}, bundles[0].Indices)
	assert.Equal(t, Unreliable, bundles[1].Reliability)
	assert.Equal(t, float32(0.05), bundles[1].CadenceSeconds)
	assert.True(t, bundles[1].HasVelocity)
}

func TestNewSchemaRejectsIndexGaps(t *testing.T) {
	def := SchemaDef{ID: 3, Name: "gappy", Values: []ValueDescriptor{
		{Index: 0, Name: "a", Kind: KindBool},
		{Index: 0, Name: "b", Kind: KindBool},
	}}
	_, err := NewSchema(def, DefaultConfig())
	require.ErrorIs(t, err, ErrDuplicateIndex)

	def.Values[1].Index = 2
	_, err = NewSchema(def, DefaultConfig())
	require.ErrorIs(t, err, ErrDuplicateIndex)
}

func TestNewSchemaRejectsInvalidDescriptors(t *testing.T) {
	cases := map[string]ValueDescriptor{
		"unknown type":        {Index: 0, Name: "x", TypeName: "decimal"},
		"velocity on integer": {Index: 0, Name: "x", Kind: KindInt32, VelocityEligible: true},
		"float identity":      {Index: 0, Name: "x", Kind: KindFloat32, Role: "identity"},
		"unknown role":        {Index: 0, Name: "x", Kind: KindInt32, Role: "captain"},
		"unknown skip":        {Index: 0, Name: "x", Kind: KindBool, SkipName: "sometimes"},
		"inverted range":      {Index: 0, Name: "x", Kind: KindVector2, Quantization: QuantizationSettings{Lower: 1, Upper: 0, Bits: 8}},
		"negative cadence":    {Index: 0, Name: "x", Kind: KindBool, SyncCadenceSeconds: -1},
		"missing kind":        {Index: 0, Name: "x"},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSchema(SchemaDef{ID: 4, Name: "bad", Values: []ValueDescriptor{d}}, DefaultConfig())
			require.Error(t, err)
		})
	}
}

func TestNewSchemaRejectsSecondIdentity(t *testing.T) {
	def := SchemaDef{ID: 5, Name: "twins", Values: []ValueDescriptor{
		{Index: 0, Name: "a", Kind: KindUint32, Role: "identity"},
		{Index: 1, Name: "b", Kind: KindUint32, Role: "identity"},
	}}
	_, err := NewSchema(def, DefaultConfig())
	require.Error(t, err)
}

func TestFingerprintIsStableAndShapeSensitive(t *testing.T) {
	a, err := NewSchema(shipDefs()[0], DefaultConfig())
	require.NoError(t, err)
	b, err := NewSchema(shipDefs()[0], DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	require.NoError(t, a.CheckFingerprint(b.Fingerprint()))

	def := shipDefs()[0]
	def.Values[shipPosition].Quantization.Bits = 16
	c, err := NewSchema(def, DefaultConfig())
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	require.ErrorIs(t, a.CheckFingerprint(c.Fingerprint()), ErrSchemaMismatch)
}

func TestFingerprintIgnoresDeclarationOrder(t *testing.T) {
	def := shipDefs()[0]
	reversed := def
	reversed.Values = make([]ValueDescriptor, len(def.Values))
	for i, v := range def.Values {
		reversed.Values[len(def.Values)-1-i] = v
	}
	a, err := NewSchema(def, DefaultConfig())
	require.NoError(t, err)
	b, err := NewSchema(reversed, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestParseValueKindAliases(t *testing.T) {
	for name, want := range map[string]ValueKind{
		"float":      KindFloat32,
		"int":        KindInt32,
		"ushort":     KindUint16,
		"quaternion": KindQuaternion,
		"vector2":    KindVector2,
	} {
		got, ok := ParseValueKind(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := ParseValueKind("matrix")
	assert.False(t, ok)
}
