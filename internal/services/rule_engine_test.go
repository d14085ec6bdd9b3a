package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiwuxian/codelove/internal/models"
)

func testGameConfig() models.GameConfig {
	return models.GameConfig{PassAffinity: 5, FailAffinity: -2, MinAffinity: 0, MaxAffinity: 100, StartAffinity: 50}
}

func TestRuleEngineClamp(t *testing.T) {
	re := NewRuleEngine(testGameConfig())
	assert.Equal(t, 100, re.Apply(98, 5))
	assert.Equal(t, 0, re.Apply(1, -2))
	assert.Equal(t, 55, re.Apply(50, 5))
	assert.Equal(t, 5, re.SubmissionDelta(true))
	assert.Equal(t, -2, re.SubmissionDelta(false))
}

func TestRuleEnginePickRoute(t *testing.T) {
	re := NewRuleEngine(testGameConfig())
	story := &models.Story{
		Heroines:      []models.Heroine{{Name: "林晓"}, {Name: "苏雨"}, {Name: "陈曦"}},
		EndingRoutes:  map[string]models.StoryID{"林晓": "101", "苏雨": "102"},
		DefaultEnding: "100",
	}

	cases := []struct {
		name    string
		likes   map[string]int
		want    models.StoryID
		heroine string
	}{
		{"highest wins", map[string]int{"林晓": 40, "苏雨": 70}, "102", "苏雨"},
		{"tie goes to first declared", map[string]int{"林晓": 60, "苏雨": 60}, "101", "林晓"},
		{"missing likes use start value", map[string]int{"苏雨": 49}, "101", "林晓"},
		{"no route falls back", map[string]int{"陈曦": 90}, "100", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			route, heroine := re.PickRoute(story, c.likes)
			assert.Equal(t, c.want, route)
			assert.Equal(t, c.heroine, heroine)
		})
	}
}

func TestRewardHeroine(t *testing.T) {
	re := NewRuleEngine(testGameConfig())
	story := &models.Story{Heroines: []models.Heroine{{Name: "林晓"}, {Name: "苏雨"}}}

	assert.Equal(t, "苏雨", re.RewardHeroine(story, &models.Problem{Heroine: "苏雨"}, "林晓"))
	assert.Equal(t, "苏雨", re.RewardHeroine(story, &models.Problem{}, "苏雨"))
	assert.Equal(t, "林晓", re.RewardHeroine(story, &models.Problem{}, "旁白"))
	assert.Equal(t, "", re.RewardHeroine(&models.Story{}, nil, ""))
}
