package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRule(t *testing.T) {
	t.Parallel()

	r, err := CompileRule(`addr >= 0x40 && addr < 0x50`)
	require.NoError(t, err)
	assert.Equal(t, "addr >= 0x40 && addr < 0x50", r.Source())

	_, err = CompileRule("")
	assert.Error(t, err)

	_, err = CompileRule("addr +")
	assert.Error(t, err)

	_, err = CompileRule("addr + 1")
	assert.Error(t, err, "non-boolean rule must be rejected at compile time")

	_, err = CompileRule("unknown_field == 1")
	assert.Error(t, err)
}

func TestRule_Allows(t *testing.T) {
	t.Parallel()

	r := MustCompileRule(`guest == "thermo" && op == "read" && length <= 16 && addr in [72, 73]`)

	tests := []struct {
		name string
		env  RuleEnv
		want bool
	}{
		{"matching read", RuleEnv{Op: "read", Addr: 72, Length: 2, Guest: "thermo"}, true},
		{"wrong guest", RuleEnv{Op: "read", Addr: 72, Length: 2, Guest: "other"}, false},
		{"write", RuleEnv{Op: "write", Addr: 72, Length: 2, Guest: "thermo"}, false},
		{"too long", RuleEnv{Op: "read", Addr: 73, Length: 32, Guest: "thermo"}, false},
		{"wrong address", RuleEnv{Op: "read", Addr: 80, Length: 2, Guest: "thermo"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Allows(tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRule_Nil(t *testing.T) {
	t.Parallel()

	var r *Rule
	ok, err := r.Allows(RuleEnv{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, r.Source())
}
