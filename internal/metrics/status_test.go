package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenStatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		codes map[string]int
		want  []StatusBucket
	}{
		{
			name:  "nil codes",
			codes: nil,
			want:  nil,
		},
		{
			name:  "empty codes",
			codes: map[string]int{},
			want:  nil,
		},
		{
			name:  "single code",
			codes: map[string]int{"204": 10},
			want: []StatusBucket{
				{Class: "2xx", Code: "204", Count: 10},
			},
		},
		{
			name:  "sorted by count desc",
			codes: map[string]int{"204": 10, "500": 5, "404": 20},
			want: []StatusBucket{
				{Class: "4xx", Code: "404", Count: 20},
				{Class: "2xx", Code: "204", Count: 10},
				{Class: "5xx", Code: "500", Count: 5},
			},
		},
		{
			name:  "tie breaking by code",
			codes: map[string]int{"503": 3, "200": 3, "abc": 3},
			want: []StatusBucket{
				{Class: "2xx", Code: "200", Count: 3},
				{Class: "5xx", Code: "503", Count: 3},
				{Class: "other", Code: "abc", Count: 3},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenStatusCodes(tt.codes)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlattenStatusCodes() = %v, want %v", got, tt.want)
			}
		})
	}
}
