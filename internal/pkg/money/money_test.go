package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.00", Format(0))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "100.00", Format(10000))
	assert.Equal(t, "1234.56", Format(123456))
	assert.Equal(t, "-3.10", Format(-310))
}

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"12":      1200,
		"12.5":    1250,
		"12.50":   1250,
		" 0.01 ":  1,
		"1000.99": 100099,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1.005", "1e40"} {
		_, err := Parse(in)
		assert.True(t, errors.Is(err, ErrInvalidAmount), in)
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, int64(5000), Percent(10000, 50))
	assert.Equal(t, int64(0), Percent(10000, 0))
	assert.Equal(t, int64(10000), Percent(10000, 100))
	assert.Equal(t, int64(3333), Percent(9999, 33.33))
}
