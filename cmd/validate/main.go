package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jwebster45206/narrative-engine/pkg/conditionals"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <story.json|story.yaml>...\n", os.Args[0])
		os.Exit(1)
	}

	failed := false
	for _, filename := range os.Args[1:] {
		validator := &StoryValidator{}
		if err := validator.validateFile(filename); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			failed = true
			continue
		}
		fmt.Printf("%s is valid!\n", filename)
	}
	if failed {
		os.Exit(1)
	}
}

// StoryValidator collects integrity issues and naming problems for one file.
type StoryValidator struct {
	errors []string
}

func (v *StoryValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	baseName := filepath.Base(filename)
	if !story.IsStoryFile(baseName) {
		return fmt.Errorf("story file must have a .json, .yaml or .yml extension: %s", baseName)
	}

	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	if !isValidStoryFilename(nameWithoutExt) {
		return fmt.Errorf("story filename '%s' must be lowercase snake_case (e.g., my_story.json, not my-story.json or MyStory.json)", baseName)
	}

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	defer f.Close()

	// Decode rejects unknown fields for both formats.
	s, err := story.Decode(baseName, f)
	if err != nil {
		return fmt.Errorf("file %s failed strict unmarshaling: %w", filename, err)
	}

	v.errors = nil
	v.validateStory(s)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *StoryValidator) validateStory(s *story.Story) {
	for _, issue := range s.Validate() {
		v.addError(fmt.Sprintf("[%s] %s", issue.Code, issue.Message))
	}

	v.validateIDFormat("story id", s.ID)
	v.validateIDFormat("start node id", s.StartNodeID)

	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		v.validateIDFormat("node id", n.ID)
		for i := range n.Choices {
			c := &n.Choices[i]
			if strings.TrimSpace(c.Text) == "" {
				v.addError(fmt.Sprintf("node %s choice %d has empty text", n.ID, i))
			}
			if c.Condition != nil {
				v.validateConditionKeys(c.Condition, fmt.Sprintf("node %s choice %d", n.ID, i))
			}
		}
	}
}

func (v *StoryValidator) validateConditionKeys(c *conditionals.Condition, context string) {
	switch c.Kind {
	case conditionals.KindFlagEquals, conditionals.KindStatCompare:
		if c.Key != "" && !isValidVariableName(c.Key) {
			v.addError(fmt.Sprintf("%s has invalid variable name '%s' - should be lowercase snake_case", context, c.Key))
		}
	}
	for i := range c.Conditions {
		v.validateConditionKeys(&c.Conditions[i], context)
	}
}

func (v *StoryValidator) validateIDFormat(fieldName, id string) {
	if id == "" {
		return
	}

	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s '%s' should be lowercase snake_case", fieldName, id))
	}
}

func (v *StoryValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return snakeCase.MatchString(id)
}

func isValidVariableName(name string) bool {
	return snakeCase.MatchString(name)
}

func isValidStoryFilename(name string) bool {
	// Allow 'x.' prefix for experimental stories
	name = strings.TrimPrefix(name, "x.")
	return snakeCase.MatchString(name)
}
