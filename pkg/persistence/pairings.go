package persistence

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// FileVersion is the current version of the pairing file format.
const FileVersion = 1

// ErrUnsupportedVersion is returned for files written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported pairing file version")

// PairingFileData is the on-disk document.
type PairingFileData struct {
	// Version is the file format version.
	Version int `json:"version"`

	// SavedAt is when the file was last written.
	SavedAt time.Time `json:"saved_at"`

	// Tokens maps the hex instance UID to its pairing.
	Tokens map[string]PairingRecord `json:"tokens,omitempty"`
}

// PairingRecord is one stored pairing.
type PairingRecord struct {
	// Index is the pairing slot on the token.
	Index uint8 `json:"index"`

	// Key is the hex pairing key.
	Key string `json:"key"`

	// PairedAt is when the pairing was first stored.
	PairedAt time.Time `json:"paired_at"`

	// LastUsedAt is when the pairing was last loaded.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// PairingFile persists pairings to a JSON file.
type PairingFile struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewPairingFile creates a store backed by path. The file is created on
// the first Save.
func NewPairingFile(path string) *PairingFile {
	return &PairingFile{path: path, now: time.Now}
}

// Path returns the backing file path.
func (f *PairingFile) Path() string {
	return f.path
}

// Load returns the pairing stored for tokenID.
// Returns nil, nil if nothing is stored.
func (f *PairingFile) Load(tokenID string) (*wallet.PairingMaterial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil || data == nil {
		return nil, err
	}
	rec, ok := data.Tokens[tokenID]
	if !ok {
		return nil, nil
	}
	key, err := hex.DecodeString(rec.Key)
	if err != nil {
		return nil, fmt.Errorf("pairing for %s: %w", tokenID, err)
	}
	material, err := wallet.NewPairingMaterial(rec.Index, key)
	if err != nil {
		return nil, fmt.Errorf("pairing for %s: %w", tokenID, err)
	}

	rec.LastUsedAt = f.now()
	data.Tokens[tokenID] = rec
	if err := f.write(data); err != nil {
		return nil, err
	}
	return material, nil
}

// Save stores material for tokenID, replacing any previous entry.
func (f *PairingFile) Save(tokenID string, material *wallet.PairingMaterial) error {
	if material == nil {
		return f.Delete(tokenID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return err
	}
	if data == nil {
		data = &PairingFileData{}
	}
	if data.Tokens == nil {
		data.Tokens = make(map[string]PairingRecord)
	}
	data.Tokens[tokenID] = PairingRecord{
		Index:    material.Index,
		Key:      hex.EncodeToString(material.Key),
		PairedAt: f.now(),
	}
	return f.write(data)
}

// Delete removes the entry for tokenID. Missing entries are not an error.
func (f *PairingFile) Delete(tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil || data == nil {
		return err
	}
	if _, ok := data.Tokens[tokenID]; !ok {
		return nil
	}
	delete(data.Tokens, tokenID)
	return f.write(data)
}

// Tokens returns the stored token IDs in sorted order.
func (f *PairingFile) Tokens() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil || data == nil {
		return nil, err
	}
	ids := make([]string, 0, len(data.Tokens))
	for id := range data.Tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear removes the file.
func (f *PairingFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *PairingFile) read() (*PairingFileData, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data := &PairingFileData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, err
	}
	if data.Version > FileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data.Version)
	}
	return data, nil
}

func (f *PairingFile) write(data *PairingFileData) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}

	data.Version = FileVersion
	data.SavedAt = f.now()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	// Pairing keys grant secure channel access.
	return os.WriteFile(f.path, raw, 0600)
}
