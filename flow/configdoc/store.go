package configdoc

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/flowtune/flowtune/flow"
)

// FileStore persists a ParameterState into a configuration document on
// disk. Every Save re-reads the file first so edits made by other tools
// between attempts are kept.
type FileStore struct {
	path  string
	space *flow.ParamSpace

	mu sync.Mutex
}

// NewFileStore returns a store for the document at path. The format is
// chosen from the file extension.
func NewFileStore(path string, space *flow.ParamSpace) (*FileStore, error) {
	if _, err := FormatForPath(path); err != nil {
		return nil, err
	}
	return &FileStore{path: path, space: space}, nil
}

// Path returns the document path.
func (s *FileStore) Path() string { return s.path }

// Load reads the current parameter values from the document.
func (s *FileStore) Load() (flow.ParameterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := Load(s.path)
	if err != nil {
		return flow.ParameterState{}, err
	}
	return doc.Params(s.space)
}

// Save writes state into the document, touching only the values that
// changed.
func (s *FileStore) Save(state flow.ParameterState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := Load(s.path)
	if err != nil {
		return err
	}
	before := doc.Bytes()
	if err := doc.Apply(state); err != nil {
		return fmt.Errorf("updating %s: %w", s.path, err)
	}
	if string(before) == string(doc.Bytes()) {
		logrus.Debugf("configdoc: %s unchanged", s.path)
		return nil
	}
	return doc.WriteFile(s.path)
}
