package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYearMonth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "hyphen", input: "2025-07", want: "2025-07"},
		{name: "slash", input: "2025/7", want: "2025-07"},
		{name: "dot", input: "2025.12", want: "2025-12"},
		{name: "cjk", input: "2025年07月", want: "2025-07"},
		{name: "compact", input: "202507", want: "2025-07"},
		{name: "fullwidth digits", input: "２０２５－０７", want: "2025-07"},
		{name: "month clamped high", input: "2025-13", want: "2025-12"},
		{name: "month clamped low", input: "2025-00", want: "2025-01"},
		{name: "whitespace", input: "  2024-03 ", want: "2024-03"},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "July 2025", wantErr: true},
		{name: "year only", input: "2025", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseYearMonth(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestYearMonthCompare(t *testing.T) {
	t.Parallel()

	a := MustYearMonth("2024-12")
	b := MustYearMonth("2025-01")

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestContractWindowContains(t *testing.T) {
	t.Parallel()

	start := MustYearMonth("2024-06")
	end := MustYearMonth("2025-06")

	tests := []struct {
		name   string
		window ContractWindow
		period string
		want   bool
	}{
		{name: "inside", window: ContractWindow{Start: &start, End: &end}, period: "2024-12", want: true},
		{name: "at start", window: ContractWindow{Start: &start, End: &end}, period: "2024-06", want: true},
		{name: "at end", window: ContractWindow{Start: &start, End: &end}, period: "2025-06", want: true},
		{name: "before", window: ContractWindow{Start: &start, End: &end}, period: "2024-05", want: false},
		{name: "after", window: ContractWindow{Start: &start, End: &end}, period: "2025-07", want: false},
		{name: "open start", window: ContractWindow{End: &end}, period: "1999-01", want: true},
		{name: "open end", window: ContractWindow{Start: &start}, period: "2099-01", want: true},
		{name: "fully open", window: ContractWindow{}, period: "2025-01", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.window.Contains(MustYearMonth(tt.period)))
		})
	}
}

func TestContractWindowValidate(t *testing.T) {
	t.Parallel()

	start := MustYearMonth("2025-06")
	end := MustYearMonth("2024-06")

	assert.Error(t, ContractWindow{Start: &start, End: &end}.Validate())
	assert.NoError(t, ContractWindow{Start: &end, End: &start}.Validate())
	assert.NoError(t, ContractWindow{}.Validate())
}
