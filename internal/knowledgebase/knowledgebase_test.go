package knowledgebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticCoreHoldingTakesPriorityOverFocus(t *testing.T) {
	kb := NewStatic([]string{"AAPL"}, map[string]int{"AAPL": 5, "MSFT": 5})
	assert.Equal(t, 15, kb.ScoreBonus("AAPL"))
	assert.Equal(t, "core_holding", kb.Tag("AAPL"))
}

func TestStaticFocusBonusAndTag(t *testing.T) {
	kb := NewStatic(nil, map[string]int{"MSFT": 7})
	assert.Equal(t, 7, kb.ScoreBonus("MSFT"))
	assert.Equal(t, "focus_list", kb.Tag("MSFT"))
}

func TestStaticUnknownSymbolEarnsNothing(t *testing.T) {
	kb := NewStatic([]string{"AAPL"}, map[string]int{"MSFT": 7})
	assert.Equal(t, 0, kb.ScoreBonus("TSLA"))
	assert.Equal(t, "", kb.Tag("TSLA"))
}

func TestEmptyAlwaysZero(t *testing.T) {
	var kb Empty
	assert.Equal(t, 0, kb.ScoreBonus("AAPL"))
	assert.Equal(t, "", kb.Tag("AAPL"))
}
