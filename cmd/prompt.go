package main

import (
	"errors"
	"strings"

	"github.com/cexll/testpilot/internal/session"
	"github.com/charmbracelet/huh"
)

// askAPIKey prompts for the OpenAI key without echoing it.
func askAPIKey() (string, error) {
	var key string
	err := huh.NewInput().
		Title("OpenAI API key").
		Description("Stored in the credentials file for later runs.").
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("API key cannot be empty")
			}
			return nil
		}).
		Value(&key).
		Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// selectIdeas lets the user tick the tests to generate.
func selectIdeas(ideas []session.TestIdea) ([]session.TestIdea, error) {
	options := make([]huh.Option[int], len(ideas))
	for i, idea := range ideas {
		options[i] = huh.NewOption(idea.Name, i)
	}

	var picked []int
	err := huh.NewMultiSelect[int]().
		Title("Select the tests to generate").
		Options(options...).
		Value(&picked).
		Run()
	if err != nil {
		return nil, err
	}

	selected := make([]session.TestIdea, 0, len(picked))
	for _, i := range picked {
		selected = append(selected, ideas[i])
	}
	return selected, nil
}
