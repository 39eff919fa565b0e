package douki

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchemaFileYAML(t *testing.T) {
	defs, err := LoadSchemaFile(filepath.Join("testdata", "ship.yaml"))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	reg, err := NewRegistry(defs)
	require.NoError(t, err)
	ship, err := reg.SchemaByName("ship")
	require.NoError(t, err)

	id, ok := ship.Identity()
	require.True(t, ok)
	assert.Equal(t, uint8(0), id)
	assert.True(t, ship.Descriptor(1).IsOwnership())

	pos := ship.Descriptor(2)
	assert.Equal(t, KindVector3, pos.Kind)
	assert.Equal(t, Unreliable, pos.Reliability)
	assert.Equal(t, uint8(5), pos.PhysicsUpdateInterval)
	assert.True(t, pos.VelocityEligible)
	assert.Equal(t, QuantizationSettings{Lower: -125, Upper: 125, Bits: 18}, pos.Quantization)

	throttle := ship.Descriptor(4)
	assert.Equal(t, KindFloat32, throttle.Kind)
	assert.True(t, throttle.ShouldBlendOnReceive)
	assert.NotNil(t, throttle.Skip)
}

func TestYAMLSchemaMatchesGoDefinition(t *testing.T) {
	defs, err := LoadSchemaFile(filepath.Join("testdata", "ship.yaml"))
	require.NoError(t, err)
	fromFile, err := NewSchema(defs[0], DefaultConfig())
	require.NoError(t, err)

	def := shipDefs()[0]
	def.Values[shipPosition].VelocityQuantization = nil
	def.Values[shipRotation].VelocityQuantization = nil
	fromGo, err := NewSchema(def, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, fromGo.Fingerprint(), fromFile.Fingerprint())
}

func TestLoadSchemaFileTOML(t *testing.T) {
	defs, err := LoadSchemaFile(filepath.Join("testdata", "door.toml"))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	s, err := NewSchema(defs[0], DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "door", s.Name)
	assert.Equal(t, ArchetypeID(2), s.ID)
	assert.Equal(t, KindBool, s.Descriptor(1).Kind)
	assert.Equal(t, 12, s.Codec(0).BitSize())
}

func TestParseSchemaErrors(t *testing.T) {
	_, err := ParseSchema([]byte("archetypes: []\n"), "yaml")
	require.ErrorIs(t, err, ErrUnknownArchetype)

	_, err = ParseSchema([]byte("{}"), "json")
	require.Error(t, err)

	_, err = ParseSchema([]byte("archetypes: [\n"), "yaml")
	require.Error(t, err)

	_, err = LoadSchemaFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
