package importer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractline/internal/domain"
	"contractline/internal/registry"
)

const sampleYAML = `contracts:
  - contract_id: ship
    name: Ship orders
    depends_on: [bill, pack]
    priority: high
  - contract_id: bill
    name: Bill customer
    tags: [billing]
    provider_agent: billing-agent
    consumer_agents: [shipping-agent]
    is_blocking: true
  - contract_id: pack
    name: Pack parcel
    depends_on: [bill]
`

func TestParseYAML(t *testing.T) {
	cs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, "ship", cs[0].ID)
	assert.Equal(t, []string{"bill", "pack"}, cs[0].DependsOn)
	assert.Equal(t, domain.PriorityHigh, cs[0].Priority)
	assert.True(t, cs[1].IsBlocking)
	assert.Equal(t, []string{"shipping-agent"}, cs[1].ConsumerAgents)
}

func TestParseJSON(t *testing.T) {
	cs, err := Parse([]byte(`{"contracts":[{"contract_id":"a","name":"A","tags":["x"]}]}`))
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, []string{"x"}, cs[0].Tags)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"empty":             ``,
		"missing contracts": `{}`,
		"missing name":      "contracts:\n  - contract_id: a\n",
		"unknown field":     "contracts:\n  - contract_id: a\n    name: A\n    owner: me\n",
		"bad priority":      "contracts:\n  - contract_id: a\n    name: A\n    priority: urgent\n",
		"state not allowed": "contracts:\n  - contract_id: a\n    name: A\n    lifecycle_state: CLOSED\n",
		"duplicate id":      "contracts:\n  - contract_id: a\n    name: A\n  - contract_id: a\n    name: B\n",
		"bad yaml":          "contracts: [\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestApplyRegistersInDependencyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	cs, err := ParseFile(path)
	require.NoError(t, err)

	reg := registry.New()
	res, err := Apply(reg, cs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"bill", "pack", "ship"}, res.Created)

	plan, err := reg.Plan()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bill"}, {"pack"}, {"ship"}}, plan.ParallelGroups)

	t.Run("existing contracts", func(t *testing.T) {
		_, err := Apply(reg, cs, Options{})
		assert.ErrorIs(t, err, registry.ErrAlreadyExists)

		res, err := Apply(reg, cs, Options{SkipExisting: true})
		require.NoError(t, err)
		assert.Empty(t, res.Created)
		assert.Len(t, res.Skipped, 3)
	})
}

func TestApplyRejectsCyclicManifest(t *testing.T) {
	cs, err := Parse([]byte("contracts:\n  - {contract_id: a, name: A, depends_on: [b]}\n  - {contract_id: b, name: B, depends_on: [a]}\n"))
	require.NoError(t, err)

	reg := registry.New()
	_, err = Apply(reg, cs, Options{})
	var ce *registry.CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, reg.Len())
}
