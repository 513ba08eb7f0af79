package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/ghostreply/config"
)

func TestFilter_Check(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		MinLikes:    50,
		MinRetweets: 10,
		Keywords:    []string{"AI", "Web3", "ETH"},
		Ignore:      []string{"Giveaway", "dm me"},
	}, 0)

	tests := []struct {
		name   string
		text   string
		likes  int
		rts    int
		ok     bool
		reason string
	}{
		{"likes threshold", "AI capex is the story of the year", 50, 0, true, ""},
		{"retweet threshold", "web3 gaming is back again apparently", 0, 10, true, ""},
		{"low engagement", "AI capex is the story of the year", 49, 9, false, SkipEngagement},
		{"substring is not a word", "she said the rain would stop soon", 100, 100, false, SkipKeyword},
		{"punctuation boundary", "Is this the end for $ETH, or a dip", 100, 0, true, ""},
		{"ignored", "AI GIVEAWAY for the first 100 replies", 100, 0, false, SkipIgnored},
		{"ignored phrase", "AI tools are great, dm me for access", 100, 0, false, SkipIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := f.Check(item("1", "a", tt.text, tt.likes, tt.rts))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestFilter_SkipProbability(t *testing.T) {
	f := NewFilter(config.FilterConfig{Keywords: []string{"AI"}}, 0.5)
	it := item("1", "a", "AI capex is the story of the year", 100, 0)

	f.roll = func() float64 { return 0.2 }
	ok, reason := f.Check(it)
	assert.False(t, ok)
	assert.Equal(t, SkipRandom, reason)

	f.roll = func() float64 { return 0.7 }
	ok, _ = f.Check(it)
	assert.True(t, ok)
}

func TestSimilar(t *testing.T) {
	assert.True(t, similar("Liquidity leaves first.", "liquidity LEAVES first!"))
	assert.True(t, similar("Miners sell into every rally lately", "Miners sell into every single rally lately"))
	assert.False(t, similar("Miners sell into every rally lately", "Open weights erode pricing power quickly"))
}
