package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		want  []string
	}{
		{"empty", nil, nil},
		{"no overlap", [][]string{{"A=1"}, {"B=2"}}, []string{"A=1", "B=2"}},
		{"later list wins in place", [][]string{{"A=1", "B=2"}, {"A=3"}}, []string{"A=3", "B=2"}},
		{"duplicates within a list", [][]string{{"C=3", "C=service"}}, []string{"C=service"}},
		{"empty value overrides", [][]string{{"A=1"}, {"A="}}, []string{"A="}},
		{"value containing equals", [][]string{{"Q=a=b"}, {"Q=c=d"}}, []string{"Q=c=d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeEnv(tt.lists...))
		})
	}
}
