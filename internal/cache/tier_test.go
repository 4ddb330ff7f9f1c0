package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectTier(t *testing.T) {
	tests := []struct {
		key  string
		want Tier
	}{
		{PipelineDefinitionKey("p1"), TierImmutable},
		{"task_lib:stdlib", TierImmutable},
		{"triggers:p1", TierImmutable},
		{"access-config:org1", TierImmutable},
		{"workflow:definition:v2", TierImmutable},

		{CompletedRunKey("r1"), TierCompleted},
		{"run:failed:r2", TierCompleted},
		{"job:finished:j9", TierCompleted},

		{PipelinesListKey(), TierSemiDynamic},
		{RunsListKey(), TierSemiDynamic},
		{GroupsListKey(), TierSemiDynamic},
		{ResourcesListKey("g1"), TierSemiDynamic},

		{RunDetailsKey("r1"), TierDynamic},
		{"run:status:r1", TierDynamic},
		{"agent:heartbeat", TierDynamic},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectTier(tt.key), "key %q", tt.key)
		})
	}
}

func TestTierTTLs(t *testing.T) {
	assert.Equal(t, 60*time.Second, TTLFor(TierDynamic))
	assert.Equal(t, 600*time.Second, TTLFor(TierSemiDynamic))
	assert.Equal(t, 24*time.Hour, TTLFor(TierCompleted))
	assert.Equal(t, time.Hour, TTLFor(TierImmutable))
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "dynamic", TierDynamic.String())
	assert.Equal(t, "semi_dynamic", TierSemiDynamic.String())
	assert.Equal(t, "completed", TierCompleted.String())
	assert.Equal(t, "immutable", TierImmutable.String())
}

func TestShouldSkipCaching(t *testing.T) {
	assert.True(t, ShouldSkipCaching("auth:session:abc"))
	assert.True(t, ShouldSkipCaching("user:TOKEN:xyz"))
	assert.True(t, ShouldSkipCaching("oauth:callback"))
	assert.True(t, ShouldSkipCaching("credentials:vault"))
	assert.False(t, ShouldSkipCaching(PipelinesListKey()))
	assert.False(t, ShouldSkipCaching(RunDetailsKey("r1")))
}

func TestEvictionOrderMostVolatileFirstOrdering(t *testing.T) {
	assert.Equal(t, TierDynamic, evictionOrder[0])
	assert.Equal(t, TierSemiDynamic, evictionOrder[1])
	assert.Equal(t, TierCompleted, evictionOrder[2])
	assert.Equal(t, TierImmutable, evictionOrder[3])
}
