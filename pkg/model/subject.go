package model

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// TimelineEntry is a known fact about the subject used by simulated subjects
// and to steer questions toward sparse periods of a life.
type TimelineEntry struct {
	When     string   `yaml:"when" json:"when" firestore:"when"`
	Summary  string   `yaml:"summary" json:"summary" firestore:"summary"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty" firestore:"keywords"`
}

// Subject is the identity and optional metadata of the interviewed person
type Subject struct {
	Name        string          `yaml:"name" json:"name" firestore:"name"`
	BirthYear   int             `yaml:"birth_year,omitempty" json:"birth_year,omitempty" firestore:"birth_year"`
	Hometown    string          `yaml:"hometown,omitempty" json:"hometown,omitempty" firestore:"hometown"`
	Personality string          `yaml:"personality,omitempty" json:"personality,omitempty" firestore:"personality"`
	Language    string          `yaml:"language,omitempty" json:"language,omitempty" firestore:"language"`
	Timeline    []TimelineEntry `yaml:"timeline,omitempty" json:"timeline,omitempty" firestore:"timeline"`
}

func (s *Subject) Validate() error {
	if s == nil || s.Name == "" {
		return goerr.New("subject name is required")
	}
	return nil
}

// LoadSubject reads a subject profile from a YAML file
func LoadSubject(path string) (*Subject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read subject profile", goerr.V("path", path))
	}

	var subject Subject
	if err := yaml.Unmarshal(data, &subject); err != nil {
		return nil, goerr.Wrap(err, "failed to parse subject profile", goerr.V("path", path))
	}
	if err := subject.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid subject profile", goerr.V("path", path))
	}
	return &subject, nil
}

// LoadSubjects reads subject profiles from the given files
func LoadSubjects(paths []string) ([]*Subject, error) {
	subjects := make([]*Subject, 0, len(paths))
	for _, p := range paths {
		s, err := LoadSubject(p)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, nil
}
