package taskstore

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/runoshun/crewteam/internal/domain"
)

// ErrNoTasksInFile is returned when an import file defines no tasks.
var ErrNoTasksInFile = errors.New("no tasks found in file")

// draft is one task of an import file.
//
// Format:
//
//	tasks:
//	  - subject: Write the parser
//	    description: Handle nested blocks.
//	    owner: worker
//	  - subject: Review the parser
//	    blockedBy: ["1"]
type draft struct {
	Subject     string   `yaml:"subject"`
	Description string   `yaml:"description"`
	ActiveForm  string   `yaml:"activeForm"`
	Owner       string   `yaml:"owner"`
	BlockedBy   []string `yaml:"blockedBy"`
}

type draftFile struct {
	Tasks []draft `yaml:"tasks"`
}

// ParseDrafts decodes a YAML task import file. A bare list of tasks is
// accepted as well as a document with a top-level "tasks" key.
func ParseDrafts(content []byte) ([]domain.NewTaskInput, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrNoTasksInFile
	}

	var drafts []draft
	var file draftFile
	if err := yaml.Unmarshal(content, &file); err == nil && len(file.Tasks) > 0 {
		drafts = file.Tasks
	} else if err := yaml.Unmarshal(content, &drafts); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if len(drafts) == 0 {
		return nil, ErrNoTasksInFile
	}

	inputs := make([]domain.NewTaskInput, 0, len(drafts))
	for i, d := range drafts {
		if strings.TrimSpace(d.Subject) == "" {
			return nil, fmt.Errorf("task %d: %w", i+1, domain.ErrEmptySubject)
		}
		inputs = append(inputs, domain.NewTaskInput{
			Subject:     strings.TrimSpace(d.Subject),
			Description: strings.TrimSpace(d.Description),
			ActiveForm:  d.ActiveForm,
			Owner:       d.Owner,
			BlockedBy:   d.BlockedBy,
		})
	}
	return inputs, nil
}
