package series

import (
	"errors"
	"math"
	"testing"
	"time"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		dates   []time.Time
		values  []float64
		wantErr bool
	}{
		{
			name:   "valid",
			dates:  []time.Time{day0, day0.AddDate(0, 0, 1)},
			values: []float64{1, 2},
		},
		{
			name:    "length mismatch",
			dates:   []time.Time{day0},
			values:  []float64{1, 2},
			wantErr: true,
		},
		{
			name:    "duplicate date",
			dates:   []time.Time{day0, day0.Add(3 * time.Hour)},
			values:  []float64{1, 2},
			wantErr: true,
		},
		{
			name:    "decreasing dates",
			dates:   []time.Time{day0.AddDate(0, 0, 1), day0},
			values:  []float64{1, 2},
			wantErr: true,
		},
		{
			name:    "nan value",
			dates:   []time.Time{day0, day0.AddDate(0, 0, 1)},
			values:  []float64{1, math.NaN()},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("mood", tt.dates, tt.values)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_LengthMismatchIsTyped(t *testing.T) {
	_, err := New("mood", []time.Time{day0}, nil)
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDaily(t *testing.T) {
	s, err := Daily("mood", day0.Add(15*time.Hour), []float64{1, 2, 3})
	if err != nil {
		t.Fatalf("Daily() error: %v", err)
	}
	for i, d := range s.Dates {
		want := day0.AddDate(0, 0, i)
		if !d.Equal(want) {
			t.Errorf("date[%d] = %v, want %v", i, d, want)
		}
	}
}

func TestFutureDates(t *testing.T) {
	dates := FutureDates(day0, 3)
	if len(dates) != 3 {
		t.Fatalf("len = %d, want 3", len(dates))
	}
	for i, d := range dates {
		if want := day0.AddDate(0, 0, i+1); !d.Equal(want) {
			t.Errorf("date[%d] = %v, want %v", i, d, want)
		}
	}
	if FutureDates(day0, 0) != nil {
		t.Error("expected nil for n=0")
	}
}

func TestDiff(t *testing.T) {
	s, _ := Daily("x", day0, []float64{1, 3, 6, 10})
	d := s.Diff()

	want := []float64{2, 3, 4}
	if d.Len() != len(want) {
		t.Fatalf("len = %d, want %d", d.Len(), len(want))
	}
	for i := range want {
		if d.Values[i] != want[i] {
			t.Errorf("value[%d] = %v, want %v", i, d.Values[i], want[i])
		}
	}
	if !d.Dates[0].Equal(s.Dates[1]) {
		t.Errorf("first diff date = %v, want %v", d.Dates[0], s.Dates[1])
	}

	if got := Diff([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 7); len(got) != 1 || got[0] != 7 {
		t.Errorf("Diff lag 7 = %v, want [7]", got)
	}
}

func TestShift(t *testing.T) {
	got := Shift([]float64{1, 2, 3, 4}, 2)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Errorf("leading values should be NaN, got %v", got)
	}
	if got[2] != 1 || got[3] != 2 {
		t.Errorf("Shift = %v, want [NaN NaN 1 2]", got)
	}
}

func TestAlignTo_ForwardThenBackwardFill(t *testing.T) {
	exog, _ := New("temp",
		[]time.Time{day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 3), day0.AddDate(0, 0, 10)},
		[]float64{10, 30, 99},
	)
	target := FutureDates(day0.AddDate(0, 0, -1), 5)

	got, matched := exog.AlignTo(target)
	if matched != 2 {
		t.Errorf("matched = %d, want 2", matched)
	}

	want := []float64{10, 10, 10, 30, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("aligned[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAlignTo_NoOverlap(t *testing.T) {
	exog, _ := Daily("temp", day0.AddDate(1, 0, 0), []float64{1, 2})
	got, matched := exog.AlignTo(FutureDates(day0, 3))
	if matched != 0 {
		t.Errorf("matched = %d, want 0", matched)
	}
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("aligned[%d] = %v, want NaN", i, v)
		}
	}
}

func TestRollingStats(t *testing.T) {
	values := []float64{1, 2, 3, 4}

	mean := RollingMean(values, 2)
	wantMean := []float64{1, 1.5, 2.5, 3.5}
	for i := range wantMean {
		if math.Abs(mean[i]-wantMean[i]) > 1e-12 {
			t.Errorf("mean[%d] = %v, want %v", i, mean[i], wantMean[i])
		}
	}

	std := RollingStd(values, 3)
	if !math.IsNaN(std[0]) {
		t.Errorf("std[0] = %v, want NaN", std[0])
	}
	if math.Abs(std[1]-math.Sqrt(0.5)) > 1e-12 {
		t.Errorf("std[1] = %v, want %v", std[1], math.Sqrt(0.5))
	}
	if math.Abs(std[3]-1) > 1e-12 {
		t.Errorf("std[3] = %v, want 1", std[3])
	}
}

func TestLast(t *testing.T) {
	if _, _, err := (Series{}).Last(); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	s, _ := Daily("x", day0, []float64{4, 5})
	d, v, err := s.Last()
	if err != nil || v != 5 || !d.Equal(day0.AddDate(0, 0, 1)) {
		t.Errorf("Last() = %v, %v, %v", d, v, err)
	}
}
