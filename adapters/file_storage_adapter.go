package adapters

import (
	"encoding/json"
	"os"
)

// FileStorageAdapter is the default storage adapter implementation
// using the file system. Keys and values are stored as a JSON object in
// a single file.
type FileStorageAdapter struct {
	filepath string
}

// Ensure FileStorageAdapter implements StorageAdapter interface
var _ StorageAdapter = (*FileStorageAdapter)(nil)

// NewFileStorageAdapter creates a new FileStorageAdapter instance.
//
// Parameters:
//   - filepath: Path to the file where values will be stored
func NewFileStorageAdapter(filepath string) StorageAdapter {
	return &FileStorageAdapter{filepath: filepath}
}

// Get returns the value stored under key, or "" if the file or the key
// does not exist.
func (f *FileStorageAdapter) Get(key string) (string, error) {
	values, err := f.read()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// Set stores value under key, rewriting the backing file.
func (f *FileStorageAdapter) Set(key, value string) error {
	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

// Remove deletes key from the backing file.
func (f *FileStorageAdapter) Remove(key string) error {
	values, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.write(values)
}

func (f *FileStorageAdapter) read() (map[string]string, error) {
	data, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (f *FileStorageAdapter) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(f.filepath, data, 0644)
}
