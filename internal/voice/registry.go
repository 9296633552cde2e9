package voice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrVoiceNotFound is returned when a voice name has no reference file.
var ErrVoiceNotFound = errors.New("voice not found")

var supportedExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
}

// Registry lists reference voices stored as audio files in a directory. A voice's
// name is its file name without extension.
type Registry struct {
	dir string
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

func (r *Registry) Dir() string { return r.dir }

// List scans the directory and returns name -> path.
func (r *Registry) List() (map[string]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list voices in %s: %w", r.dir, err)
	}
	voices := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !supportedExtensions[strings.ToLower(ext)] {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		voices[name] = filepath.Join(r.dir, entry.Name())
	}
	return voices, nil
}

// Names returns the sorted voice names.
func (r *Registry) Names() ([]string, error) {
	voices, err := r.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(voices))
	for name := range voices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Lookup returns the file path for a voice name.
func (r *Registry) Lookup(name string) (string, error) {
	voices, err := r.List()
	if err != nil {
		return "", err
	}
	path, ok := voices[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}
	return path, nil
}

// ResolveAssignments maps every speaker id to the file of its assigned voice.
func ResolveAssignments(speakerIDs []int, assigned map[int]string, available map[string]string) (map[string]string, error) {
	paths := make(map[string]string, len(speakerIDs))
	for _, id := range speakerIDs {
		name, ok := assigned[id]
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: no voice assigned to speaker %d", ErrVoiceNotFound, id)
		}
		path, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s (speaker %d)", ErrVoiceNotFound, name, id)
		}
		paths[name] = path
	}
	return paths, nil
}
