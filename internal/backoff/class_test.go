package backoff

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{ErrRateLimited, ClassRateLimited},
		{ErrReuploadNeeded, ClassReuploadNeeded},
		{ErrClientState, ClassClientState},
		{ErrPermanent, ClassPermanent},
		{fmt.Errorf("connection reset: %w", ErrTransientNetwork), ClassTransientNetwork},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err))
	}
}

func TestShouldBlock_PermanentBlocksImmediately(t *testing.T) {
	assert.True(t, ShouldBlock(ClassPermanent, 0))
}

func TestShouldBlock_TransientNetworkNeverBlocks(t *testing.T) {
	assert.False(t, ShouldBlock(ClassTransientNetwork, 1000))
}

func TestShouldBlock_ClientStateBlocksAfterThreeRetries(t *testing.T) {
	assert.False(t, ShouldBlock(ClassClientState, 2))
	assert.True(t, ShouldBlock(ClassClientState, 3))
}

func TestShouldConvertToDeleteAndCreate(t *testing.T) {
	assert.False(t, ShouldConvertToDeleteAndCreate(ClassReuploadNeeded, 1))
	assert.True(t, ShouldConvertToDeleteAndCreate(ClassReuploadNeeded, 2))
	assert.False(t, ShouldConvertToDeleteAndCreate(ClassClientState, 2))
}

func TestNextDelay_RateLimitHonorsServerHint(t *testing.T) {
	d := NextDelay(ClassRateLimited, 0, 45*time.Second)
	assert.Equal(t, 45*time.Second, d)

	d = NextDelay(ClassRateLimited, 0, 0)
	assert.Equal(t, defaultRateLimitDelay, d)
}

func TestNextDelay_ClientStateIsFlat(t *testing.T) {
	assert.Equal(t, 5*time.Second, NextDelay(ClassClientState, 0, 0))
	assert.Equal(t, 5*time.Second, NextDelay(ClassClientState, 2, 0))
}

func TestNextDelay_TransientNetworkExponentialWithJitterAndCap(t *testing.T) {
	d := NextDelay(ClassTransientNetwork, 2, 0) // base 4s +/- 20%
	assert.InDelta(t, 4*time.Second, d, float64(4*time.Second)*0.25)

	d = NextDelay(ClassTransientNetwork, 20, 0) // would overflow without the cap
	assert.LessOrEqual(t, d, 5*time.Minute+1*time.Minute)
}
