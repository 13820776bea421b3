package directive

import (
	_ "embed"
	"fmt"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/emotion"
	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var embeddedContent []byte

const (
	questionsPerEmotion = 4
	resourcesPerAction  = 3
	genericKey          = "generic"
	defaultKey          = "default"
)

// Action is one call-to-action entry in the content tables.
type Action struct {
	Message   string   `yaml:"message"`
	Resources []string `yaml:"resources"`
}

// Content holds every scripted text the directive generators draw from.
type Content struct {
	FollowUps         map[string][]string                        `yaml:"follow_ups"`
	CallToAction      map[string]map[dialogue.ActionType]Action `yaml:"call_to_action"`
	Fallbacks         map[string]string                          `yaml:"fallbacks"`
	Activities        []string                                   `yaml:"activities"`
	SessionActivities []string                                   `yaml:"session_activities"`
	Insights          map[string]string                          `yaml:"insights"`
}

var content = mustLoad(embeddedContent)

// Load parses and validates a content document.
func Load(data []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal directive content: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func mustLoad(data []byte) *Content {
	c, err := Load(data)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Content) validate() error {
	for _, key := range []string{string(emotion.Anxiety), string(emotion.Sadness), string(emotion.Anger), string(emotion.Joy), genericKey} {
		if n := len(c.FollowUps[key]); n != questionsPerEmotion {
			return fmt.Errorf("follow_ups.%s: want %d questions, got %d", key, questionsPerEmotion, n)
		}
	}

	// anxiety is the fallback table for emotions without their own
	if _, ok := c.CallToAction[string(emotion.Anxiety)]; !ok {
		return fmt.Errorf("call_to_action.%s is required", emotion.Anxiety)
	}
	for key, actions := range c.CallToAction {
		for _, at := range dialogue.ActionTypes {
			a, ok := actions[at]
			if !ok {
				return fmt.Errorf("call_to_action.%s.%s is missing", key, at)
			}
			if a.Message == "" {
				return fmt.Errorf("call_to_action.%s.%s.message is empty", key, at)
			}
			if n := len(a.Resources); n != resourcesPerAction {
				return fmt.Errorf("call_to_action.%s.%s: want %d resources, got %d", key, at, resourcesPerAction, n)
			}
		}
	}

	if c.Fallbacks[defaultKey] == "" {
		return fmt.Errorf("fallbacks.%s is required", defaultKey)
	}
	if c.Insights[defaultKey] == "" {
		return fmt.Errorf("insights.%s is required", defaultKey)
	}
	if len(c.Activities) == 0 || len(c.SessionActivities) == 0 {
		return fmt.Errorf("activities and session_activities must not be empty")
	}
	return nil
}
