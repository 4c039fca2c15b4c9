package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergev/bci/trial"
)

// ErrStorage is reported when a dataset could not be persisted.
// The dataset itself is left untouched, so the caller can retry.
var ErrStorage = errors.New("storage failed")

// Format represents a dataset file format
type Format int

const (
	// FormatUnknown represents an unknown or unrecognized format
	FormatUnknown Format = iota
	FormatNPZ            // NumPy zip archive of .npy arrays
	FormatCSV            // One row per trial and channel
)

// String returns the file extension of the format
func (f Format) String() string {
	switch f {
	case FormatNPZ:
		return "npz"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// ParseFormat converts a format name, as given in the configuration
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "", "npz":
		return FormatNPZ, nil
	case "csv":
		return FormatCSV, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown storage format: %s", name)
	}
}

// DetectFormat detects the format from a filename based on its extension.
// The extension check is case-insensitive.
func DetectFormat(filename string) Format {
	ext := filepath.Ext(filename)
	if ext == "" {
		return FormatUnknown
	}
	switch strings.ToLower(ext[1:]) {
	case "npz":
		return FormatNPZ
	case "csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// Write a dataset to a file, according to its format.
func Write(filename string, data *trial.Dataset) error {
	if err := data.Check(); err != nil {
		return err
	}
	switch DetectFormat(filename) {
	case FormatNPZ:
		return writeFile(filename, func(f *os.File) error { return WriteNPZ(f, data) })
	case FormatCSV:
		return writeFile(filename, func(f *os.File) error { return WriteCSV(f, data) })
	default:
		return fmt.Errorf("unknown or unsupported dataset format for file: %s", filename)
	}
}

// Read a dataset from a file. Only the npz format keeps enough
// information to be read back.
func Read(filename string) (*trial.Dataset, error) {
	if DetectFormat(filename) != FormatNPZ {
		return nil, fmt.Errorf("unknown or unsupported dataset format for file: %s", filename)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	return ReadNPZ(f, info.Size())
}

// writeFile writes through a temporary file, so that a failed write
// never leaves a truncated dataset behind
func writeFile(filename string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".eegdata-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
