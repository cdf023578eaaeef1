package service

import (
	"testing"
	"time"
)

func TestCost(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want float64
	}{
		{0, 0},
		{-time.Hour, 0},
		{time.Minute, 50},
		{time.Hour, 50},
		{time.Hour + time.Second, 100},
		{2 * time.Hour, 100},
		{150 * time.Minute, 150},
	}
	for _, tc := range tests {
		if got := Cost(tc.d); got != tc.want {
			t.Errorf("Cost(%s) = %v, want %v", tc.d, got, tc.want)
		}
	}
}

func TestExtensionCostIsProRata(t *testing.T) {
	if got := ExtensionCost(1.5); got != 75 {
		t.Fatalf("ExtensionCost(1.5) = %v, want 75", got)
	}
	if got := ExtensionCost(0.25); got != 12.5 {
		t.Fatalf("ExtensionCost(0.25) = %v, want 12.5", got)
	}
}
