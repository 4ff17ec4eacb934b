// Package manifest builds, encodes, and verifies deployment manifests.
// A manifest is the entry point of one deployment: it maps module names
// to content-hashed asset files. A client that keeps running across a
// deployment holds references into a manifest whose assets no longer
// exist; that is the stale build reference the loader recovers from.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/manifold/pkg/models"
)

// ErrDigestMismatch is returned when a fetched payload does not hash to
// the digest the manifest declares for it.
type ErrDigestMismatch struct {
	Module string
	Want   string
	Got    string
}

func (e *ErrDigestMismatch) Error() string {
	return fmt.Sprintf("digest mismatch for module %s: want %s, got %s", e.Module, e.Want, e.Got)
}

// Parse decodes a yaml manifest
func Parse(data []byte) (*models.Manifest, error) {
	var m models.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.DeploymentID == "" {
		return nil, fmt.Errorf("manifest has no deployment_id")
	}
	return &m, nil
}

// Encode serializes a manifest as yaml
func Encode(m *models.Manifest) ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// Verify checks a fetched payload against the manifest entry for module
func Verify(asset models.Asset, payload []byte) error {
	sum := sha256.Sum256(payload)
	got := hex.EncodeToString(sum[:])
	if got != asset.SHA256 {
		return &ErrDigestMismatch{Module: asset.Module, Want: asset.SHA256, Got: got}
	}
	return nil
}

// Cut builds a manifest from the module files in assetDir. Each regular
// file becomes one module asset: the module name is the file name without
// extension, the version is the first 8 hex digits of the content hash,
// and the published file name embeds that version so every deployment's
// assets have distinct names.
func Cut(assetDir string) (*models.Manifest, error) {
	entries, err := os.ReadDir(assetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset directory: %w", err)
	}

	m := &models.Manifest{
		DeploymentID: uuid.New().String(),
		CutAt:        time.Now().UTC(),
		Assets:       make(map[string]models.Asset),
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(assetDir, name)
		digest, size, err := hashFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", name, err)
		}

		module := strings.TrimSuffix(name, filepath.Ext(name))
		version := digest[:8]
		ext := filepath.Ext(name)
		if ext == "" {
			ext = ".bundle"
		}

		m.Assets[module] = models.Asset{
			Module:   module,
			FileName: fmt.Sprintf("%s.%s%s", module, version, ext),
			Version:  version,
			SHA256:   digest,
			Size:     size,
		}
	}

	if len(m.Assets) == 0 {
		return nil, fmt.Errorf("no assets found in %s", assetDir)
	}
	return m, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
