package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/battysh/batty/internal/common/config"
)

func testAutoAnswers() config.OrderedAnswers {
	return config.OrderedAnswers{
		{Pattern: "Continue? [y/n]", Response: "y"},
		{Pattern: "Allow tool", Response: "y"},
	}
}

func TestObserveAlwaysReturnsObserve(t *testing.T) {
	engine := New(Observe, testAutoAnswers())
	decision := engine.Evaluate("Continue? [y/n]")
	assert.Equal(t, Decision{Kind: KindObserve, Prompt: "Continue? [y/n]"}, decision)
}

func TestObserveWithUnknownPrompt(t *testing.T) {
	engine := New(Observe, testAutoAnswers())
	decision := engine.Evaluate("What model should I use?")
	assert.Equal(t, Decision{Kind: KindObserve, Prompt: "What model should I use?"}, decision)
}

func TestSuggestWithMatchingPattern(t *testing.T) {
	engine := New(Suggest, testAutoAnswers())
	decision := engine.Evaluate("Continue? [y/n]")
	assert.Equal(t, Decision{Kind: KindSuggest, Prompt: "Continue? [y/n]", Response: "y"}, decision)
}

func TestSuggestEscalatesUnknownPrompt(t *testing.T) {
	engine := New(Suggest, testAutoAnswers())
	decision := engine.Evaluate("What database should I use?")
	assert.Equal(t, Decision{Kind: KindEscalate, Prompt: "What database should I use?"}, decision)
}

func TestActAutoRespondsToMatchingPattern(t *testing.T) {
	engine := New(Act, testAutoAnswers())
	decision := engine.Evaluate("Continue? [y/n]")
	assert.Equal(t, Decision{Kind: KindAct, Prompt: "Continue? [y/n]", Response: "y"}, decision)
}

func TestActEscalatesUnknownPrompt(t *testing.T) {
	engine := New(Act, testAutoAnswers())
	decision := engine.Evaluate("Should I refactor the auth module?")
	assert.Equal(t, Decision{Kind: KindEscalate, Prompt: "Should I refactor the auth module?"}, decision)
}

func TestActWithSubstringMatch(t *testing.T) {
	engine := New(Act, testAutoAnswers())
	decision := engine.Evaluate("Allow tool Read on /home/user/file.rs? [y/n]")
	assert.Equal(t, Decision{
		Kind:     KindAct,
		Prompt:   "Allow tool Read on /home/user/file.rs? [y/n]",
		Response: "y",
	}, decision)
}

func TestEmptyAutoAnswersAlwaysEscalatesInActMode(t *testing.T) {
	engine := New(Act, nil)
	decision := engine.Evaluate("Continue? [y/n]")
	assert.Equal(t, Decision{Kind: KindEscalate, Prompt: "Continue? [y/n]"}, decision)
}

func TestTierGetter(t *testing.T) {
	engine := New(Act, nil)
	assert.Equal(t, Act, engine.Tier())
}
