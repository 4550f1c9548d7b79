package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStampUsesMillisecondLayout(t *testing.T) {
	c := Fixed(time.Date(2024, 3, 5, 7, 8, 9, 123456789, time.UTC))
	assert.Equal(t, "2024-03-05 07:08:09.123", c.Stamp())
}

func TestNilClockFallsBackToWallTime(t *testing.T) {
	var c Clock
	before := time.Now()
	assert.False(t, c.Now().Before(before))
}
