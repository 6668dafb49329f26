package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/daimatz/gocpool/pkg/cpool"
)

// ErrClassNotFound is returned by a loader that has no bytes for a class.
var ErrClassNotFound = errors.New("class not found")

// ClassLoader finds class file bytes by class name. LoadClass returns the
// bytes together with the loader that defines the class, which differs from
// the receiver when the request was delegated.
type ClassLoader interface {
	cpool.Loader
	LoadClass(name string) ([]byte, ClassLoader, error)
}

// JmodClassLoader loads classes from a JDK jmod file.
type JmodClassLoader struct {
	JmodPath string

	mu      sync.Mutex
	entries map[string]*zip.File
}

// NewJmodClassLoader creates a new JmodClassLoader acting as the boot loader.
func NewJmodClassLoader(jmodPath string) *JmodClassLoader {
	return &JmodClassLoader{JmodPath: jmodPath}
}

func (cl *JmodClassLoader) Kind() cpool.LoaderKind { return cpool.LoaderBoot }
func (cl *JmodClassLoader) Name() string           { return "boot" }

func (cl *JmodClassLoader) ensureEntries() error {
	if cl.entries != nil {
		return nil
	}

	f, err := os.Open(cl.JmodPath)
	if err != nil {
		return fmt.Errorf("jmod: opening %s: %w", cl.JmodPath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("jmod: reading %s: %w", cl.JmodPath, err)
	}
	if len(data) < 4 || !bytes.HasPrefix(data, []byte("JM")) {
		return fmt.Errorf("jmod: %s has no jmod header", cl.JmodPath)
	}

	zipData := data[4:] // Skip "JM\x01\x00" header
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return fmt.Errorf("jmod: opening zip: %w", err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, file := range zr.File {
		entries[file.Name] = file
	}
	cl.entries = entries
	return nil
}

func (cl *JmodClassLoader) LoadClass(name string) ([]byte, ClassLoader, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if err := cl.ensureEntries(); err != nil {
		return nil, nil, err
	}

	target := "classes/" + name + ".class"
	file, ok := cl.entries[target]
	if !ok {
		return nil, nil, fmt.Errorf("jmod: %s in %s: %w", name, cl.JmodPath, ErrClassNotFound)
	}
	rc, err := file.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("jmod: opening %s: %w", target, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("jmod: reading %s: %w", target, err)
	}
	return data, cl, nil
}

// UserClassLoader loads user classes from the classpath, delegating to the
// parent first.
type UserClassLoader struct {
	ClassPath string
	Parent    ClassLoader
}

// NewUserClassLoader creates a new UserClassLoader acting as the app loader.
func NewUserClassLoader(classPath string, parent ClassLoader) *UserClassLoader {
	return &UserClassLoader{ClassPath: classPath, Parent: parent}
}

func (cl *UserClassLoader) Kind() cpool.LoaderKind { return cpool.LoaderApp }
func (cl *UserClassLoader) Name() string           { return "app" }

func (cl *UserClassLoader) LoadClass(name string) ([]byte, ClassLoader, error) {
	if cl.Parent != nil {
		data, definer, err := cl.Parent.LoadClass(name)
		if err == nil {
			return data, definer, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, nil, err
		}
	}
	path := filepath.Join(cl.ClassPath, name+".class")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("user: %s: %w", name, ErrClassNotFound)
		}
		return nil, nil, fmt.Errorf("user: reading %s: %w", path, err)
	}
	return data, cl, nil
}

// MemoryClassLoader serves class files held in memory. It delegates to its
// parent first, like UserClassLoader.
type MemoryClassLoader struct {
	kind   cpool.LoaderKind
	name   string
	parent ClassLoader

	mu      sync.RWMutex
	classes map[string][]byte
}

// NewMemoryClassLoader creates an empty loader of the given kind.
func NewMemoryClassLoader(kind cpool.LoaderKind, name string, parent ClassLoader) *MemoryClassLoader {
	return &MemoryClassLoader{kind: kind, name: name, parent: parent, classes: make(map[string][]byte)}
}

func (cl *MemoryClassLoader) Kind() cpool.LoaderKind { return cl.kind }
func (cl *MemoryClassLoader) Name() string           { return cl.name }

// Add registers the class file data under name.
func (cl *MemoryClassLoader) Add(name string, data []byte) *MemoryClassLoader {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.classes[name] = data
	return cl
}

func (cl *MemoryClassLoader) LoadClass(name string) ([]byte, ClassLoader, error) {
	if cl.parent != nil {
		data, definer, err := cl.parent.LoadClass(name)
		if err == nil {
			return data, definer, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, nil, err
		}
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	data, ok := cl.classes[name]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %s: %w", cl.name, name, ErrClassNotFound)
	}
	return data, cl, nil
}
