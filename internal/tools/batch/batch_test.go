package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringOrArray(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    []string
		wantErr bool
	}{
		{name: "single string", input: "t1", want: []string{"t1"}},
		{name: "array of strings", input: []any{"t1", "t2", "t3"}, want: []string{"t1", "t2", "t3"}},
		{name: "nil", input: nil, wantErr: true},
		{name: "empty string", input: "", wantErr: true},
		{name: "empty array", input: []any{}, wantErr: true},
		{name: "array with non-string", input: []any{"t1", 42}, wantErr: true},
		{name: "array with empty string", input: []any{"t1", ""}, wantErr: true},
		{name: "wrong type", input: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStringOrArray(tt.input, "thread_ids")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "thread_ids")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	outcomes := Run([]string{"t1", "t2", "t3"}, func(id string) (string, error) {
		if id == "t2" {
			return "", errors.New("not found")
		}
		return "body of " + id, nil
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, "body of t1", outcomes[0].Value)
	assert.NoError(t, outcomes[0].Err)
	assert.EqualError(t, outcomes[1].Err, "not found")
	assert.Equal(t, "body of t3", outcomes[2].Value)
	assert.Equal(t, 1, Failed(outcomes))
}

func TestRunPreservesOrder(t *testing.T) {
	ids := []string{"c", "a", "b"}
	outcomes := Run(ids, func(id string) (int, error) { return len(id), nil })
	for i, o := range outcomes {
		assert.Equal(t, ids[i], o.ID)
	}
	assert.Zero(t, Failed(outcomes))
}
