package sretry_test

import (
	"testing"
	"time"

	"github.com/sandpolis/sandpolis/sretry"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPolicy_queryRoundTrip(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		p sretry.Policy
		q string
	}{
		{p: sretry.Constant(400 * time.Millisecond), q: "type=constant&initial=400"},
		{p: sretry.Default(), q: "type=constant&initial=4000"},
		{
			p: sretry.Exponential(100*time.Millisecond, 4, 2*time.Second),
			q: "type=exponential&initial=100&constant=4&limit=2000",
		},
		{
			p: sretry.Exponential(250*time.Millisecond, 1.5, 0),
			q: "type=exponential&initial=250&constant=1.5",
		},
	} {
		t.Run(tc.q, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.q, tc.p.Query())

			got, err := sretry.ParseQuery(tc.q)
			require.NoError(t, err)
			require.Equal(t, tc.p, got)
		})
	}
}

func TestParseQuery_keyOrderIrrelevant(t *testing.T) {
	t.Parallel()

	got, err := sretry.ParseQuery("limit=900&constant=2&initial=30&type=exponential")
	require.NoError(t, err)
	require.Equal(t, sretry.Exponential(30*time.Millisecond, 2, 900*time.Millisecond), got)
}

func TestParseQuery_empty(t *testing.T) {
	t.Parallel()

	got, err := sretry.ParseQuery("")
	require.NoError(t, err)
	require.Equal(t, sretry.Default(), got)
}

func TestParseQuery_invalid(t *testing.T) {
	t.Parallel()

	for _, q := range []string{
		"initial=100",
		"type=linear&initial=100",
		"type=constant",
		"type=constant&initial=abc",
		"type=constant&initial=-5",
		"type=exponential&initial=100",
		"type=exponential&initial=100&constant=0",
		"type=exponential&initial=100&constant=x",
		"type=exponential&initial=500&constant=2&limit=100",
		"type=%zz",
	} {
		_, err := sretry.ParseQuery(q)
		require.Errorf(t, err, "query %q", q)
	}
}

func TestPolicy_Validate_collectsAll(t *testing.T) {
	t.Parallel()

	err := sretry.Policy{
		Kind:     sretry.KindExponential,
		Initial:  -time.Second,
		Constant: -1,
		Limit:    -time.Second,
	}.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "Constant")
	require.ErrorContains(t, err, "Limit")
	require.ErrorContains(t, err, "Initial")
}

func TestPolicy_yaml(t *testing.T) {
	t.Parallel()

	type doc struct {
		Retry sretry.Policy `yaml:"retry"`
	}

	in := doc{Retry: sretry.Exponential(time.Second, 3, time.Minute)}
	b, err := yaml.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), "type=exponential&initial=1000&constant=3&limit=60000")

	var out doc
	require.NoError(t, yaml.Unmarshal(b, &out))
	require.Equal(t, in, out)

	var unset doc
	require.NoError(t, yaml.Unmarshal([]byte("retry: \"\"\n"), &unset))
	require.True(t, unset.Retry.IsZero())
	require.Equal(t, sretry.Default(), unset.Retry.OrDefault())
}
