package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single value", "forest", []string{"forest"}},
		{"two values", "linear, mlp", []string{"linear", "mlp"}},
		{"varied spacing", "1,  3 , 6", []string{"1", "3", "6"}},
		{"trailing comma", "bm,", []string{"bm"}},
		{"leading comma", ",roa", []string{"roa"}},
		{"only spaces", "   ", nil},
		{"comma only", ",", nil},
		{"multiple commas", ",,bm,,roa,,", []string{"bm", "roa"}},
		{"internal spaces preserved", "cash debt, de ratio", []string{"cash debt", "de ratio"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCSV(tt.input))
		})
	}
}
