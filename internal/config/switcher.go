package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"vtuber-backend/pkg/logger"
)

// Holder publishes the active configuration. Readers never observe a
// partially applied switch.
type Holder struct {
	p atomic.Pointer[Config]
}

func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.p.Store(cfg)
	return h
}

func (h *Holder) Load() *Config {
	return h.p.Load()
}

func (h *Holder) Store(cfg *Config) {
	h.p.Store(cfg)
}

// Notifier receives the outcome of a switch. Apply is called with the
// validated candidate before it is published; an error from Apply aborts
// the switch and leaves the previous configuration active.
type Notifier interface {
	Apply(next *Config) error
	Switched(next *Config, message string)
	Failed(message string)
}

// Switcher replaces the character section of a session's configuration
// with the base file's or an alternate file merged over the current one.
type Switcher struct {
	holder   *Holder
	basePath string
	altsDir  string

	mu sync.Mutex

	// readFile is swapped in tests to observe file access.
	readFile func(path string) (map[string]any, error)
}

func NewSwitcher(holder *Holder, basePath, altsDir string) *Switcher {
	return &Switcher{
		holder:   holder,
		basePath: basePath,
		altsDir:  altsDir,
		readFile: readCharacterFile,
	}
}

// Switch applies selector and notifies n. On failure the active
// configuration is unchanged and the returned error is a *Error.
func (s *Switcher) Switch(selector string, n Notifier) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.prepare(selector)
	if err == nil {
		err = n.Apply(next)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrLoad, err)
		}
	}
	if err != nil {
		serr := &Error{Selector: selector, Err: err}
		logger.Errorf("Error switching configuration: %v", serr)
		n.Failed(fmt.Sprintf("Error switching configuration: %v", err))
		return nil, serr
	}

	s.holder.Store(next)
	logger.Infof("Switched to config %s (%s)", selector, next.Character.ConfName)
	n.Switched(next, fmt.Sprintf("Switched to config: %s", selector))
	return next, nil
}

func (s *Switcher) prepare(selector string) (*Config, error) {
	current := s.holder.Load()

	var merged map[string]any
	if selector == filepath.Base(s.basePath) {
		raw, err := s.read(s.basePath)
		if err != nil {
			return nil, err
		}
		merged = raw
	} else {
		path, err := ResolveAlternate(s.altsDir, selector)
		if err != nil {
			return nil, err
		}
		raw, err := s.read(path)
		if err != nil {
			return nil, err
		}
		merged = DeepMerge(current.character, raw)
	}

	character, err := DecodeCharacter(merged)
	if err != nil {
		return nil, err
	}
	if err := ValidateCharacter(character); err != nil {
		return nil, err
	}
	return current.WithCharacter(*character, merged), nil
}

func (s *Switcher) read(path string) (map[string]any, error) {
	raw, err := s.readFile(path)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoData)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	return raw, nil
}

// ResolveAlternate maps selector to a file under dir, rejecting anything
// that would resolve outside it. Symlinks are followed before the check.
func ResolveAlternate(dir, selector string) (string, error) {
	if selector == "" || filepath.IsAbs(selector) {
		return "", ErrInvalidPath
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if root, err = evalExisting(root); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	path, err := evalExisting(filepath.Join(root, selector))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return path, nil
}

// evalExisting resolves symlinks in the longest existing prefix of path
// and appends the missing remainder unchanged.
func evalExisting(path string) (string, error) {
	path = filepath.Clean(path)
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", err
		}
		rest = filepath.Join(filepath.Base(path), rest)
		path = parent
	}
}
