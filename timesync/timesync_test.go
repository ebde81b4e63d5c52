package timesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAveragesOverWindow(t *testing.T) {
	f := NewWithWindow(4)
	f.Push(0, 2, -2)
	f.Push(1, 4, -4)
	f.Push(2, 6, -6)
	f.Push(3, 8, -8)
	assert.Equal(t, 5.0, f.AverageLocalAdvantage())
	assert.Equal(t, -5.0, f.AverageRemoteAdvantage())
}

func TestWindowEvictsOldestSample(t *testing.T) {
	f := NewWithWindow(2)
	f.Push(0, 100, 0)
	f.Push(1, 2, 0)
	f.Push(2, 4, 0) // evicts frame 0's sample
	assert.Equal(t, 3.0, f.AverageLocalAdvantage())
	assert.Equal(t, 2, f.SampleCount())
}

func TestEmptyFilterAveragesZero(t *testing.T) {
	f := New()
	assert.Equal(t, 0.0, f.AverageLocalAdvantage())
	assert.Equal(t, 0, f.SampleCount())
}
