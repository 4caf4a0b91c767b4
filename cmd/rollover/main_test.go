package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"saldo/backend/internal/calendar"
)

func TestReferenceRange(t *testing.T) {
	today := calendar.MustParseDate("2024-03-10")

	from, to, err := referenceRange(options{}, today)
	require.NoError(t, err)
	require.Equal(t, today, from)
	require.Equal(t, today, to)

	from, to, err = referenceRange(options{date: "2024-03-01"}, today)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01", from.String())
	require.Equal(t, from, to)

	from, to, err = referenceRange(options{from: "2024-03-01", to: "2024-03-05"}, today)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01", from.String())
	require.Equal(t, "2024-03-05", to.String())
}

func TestReferenceRangeRejectsBadFlags(t *testing.T) {
	today := calendar.MustParseDate("2024-03-10")
	cases := map[string]options{
		"mixed":       {date: "2024-03-01", from: "2024-03-01", to: "2024-03-02"},
		"half range":  {from: "2024-03-01"},
		"inverted":    {from: "2024-03-05", to: "2024-03-01"},
		"future":      {date: "2024-03-11"},
		"bad date":    {date: "10/03/2024"},
		"future tail": {from: "2024-03-09", to: "2024-03-12"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := referenceRange(opts, today)
			require.Error(t, err)
		})
	}
}
