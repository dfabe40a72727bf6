package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/config"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func defaultPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy(config.NewConfig().Access)
	require.NoError(t, err)
	return p
}

func TestPolicy_DefaultPersonaTable(t *testing.T) {
	p := defaultPolicy(t)

	customer, err := p.Filter("customer")
	require.NoError(t, err)
	agent, err := p.Filter("support_agent")
	require.NoError(t, err)
	pm, err := p.Filter("product_manager")
	require.NoError(t, err)

	faq := []string{"customer", "support_agent", "product_manager"}
	ticket := []string{"support_agent", "product_manager"}
	internal := []string{"product_manager"}

	assert.True(t, customer.Allows(faq))
	assert.False(t, customer.Allows(ticket))
	assert.False(t, customer.Allows(internal))

	assert.True(t, agent.Allows(faq))
	assert.True(t, agent.Allows(ticket))
	assert.False(t, agent.Allows(internal))

	assert.True(t, pm.Allows(internal))
	assert.True(t, pm.Privileged())
}

func TestPolicy_InheritanceGrantsParentRows(t *testing.T) {
	p := defaultPolicy(t)

	agent, err := p.Filter("support_agent")
	require.NoError(t, err)

	// Rows scoped only to customers are visible to agents by inheritance.
	assert.True(t, agent.Allows([]string{"customer"}))
	assert.Equal(t, []string{"customer", "support_agent"}, agent.Labels())
}

func TestPolicy_InheritanceIsTransitive(t *testing.T) {
	p, err := NewPolicy(config.AccessConfig{
		Personas: []string{"guest", "member", "staff"},
		Inherits: map[string][]string{"member": {"guest"}, "staff": {"member"}},
	})
	require.NoError(t, err)

	staff, err := p.Filter("staff")
	require.NoError(t, err)
	guest, err := p.Filter("guest")
	require.NoError(t, err)

	assert.True(t, staff.Allows([]string{"guest"}))
	assert.False(t, guest.Allows([]string{"staff"}))
}

func TestPolicy_UnknownPersona(t *testing.T) {
	p := defaultPolicy(t)

	for _, persona := range []string{"", "admin", "Customer"} {
		_, err := p.Filter(persona)

		require.Error(t, err, "persona %q", persona)
		assert.ErrorIs(t, err, hrerrors.ErrInvalidPersona)
		assert.Equal(t, hrerrors.CategoryValidation, hrerrors.GetCategory(err))
	}
}

func TestPolicy_RejectsCycle(t *testing.T) {
	_, err := NewPolicy(config.AccessConfig{
		Personas: []string{"a", "b"},
		Inherits: map[string][]string{"a": {"b"}, "b": {"a"}},
	})

	require.Error(t, err)
}

func TestPolicy_RejectsUnknownReferences(t *testing.T) {
	_, err := NewPolicy(config.AccessConfig{
		Personas:   []string{"a"},
		Privileged: []string{"root"},
	})
	require.Error(t, err)

	_, err = NewPolicy(config.AccessConfig{
		Personas: []string{"a"},
		Inherits: map[string][]string{"a": {"ghost"}},
	})
	require.Error(t, err)
}

func TestPolicy_Describe(t *testing.T) {
	p := defaultPolicy(t)

	assert.Equal(t, []string{"customer", "support_agent", "product_manager"}, p.Personas())
	assert.Equal(t, []string{"product_manager"}, p.Privileged())
	assert.Equal(t, map[string][]string{"support_agent": {"customer"}}, p.Inherits())
	assert.True(t, p.Known("customer"))
	assert.False(t, p.Known("nobody"))
}

func TestPersonaFilter_ZeroValueAdmitsOnlyPublicRows(t *testing.T) {
	var f PersonaFilter

	assert.True(t, f.Allows(nil))
	assert.True(t, f.Allows([]string{}))
	assert.False(t, f.Allows([]string{"customer"}))
}

func TestPersonaFilter_LabelsAreCopies(t *testing.T) {
	p := defaultPolicy(t)
	f, err := p.Filter("support_agent")
	require.NoError(t, err)

	labels := f.Labels()
	labels[0] = "product_manager"

	assert.False(t, f.Allows([]string{"product_manager"}))
}
