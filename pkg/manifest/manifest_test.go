package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/psantana5/manifold/pkg/models"
)

func writeAsset(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
		t.Fatalf("Failed to write asset: %v", err)
	}
}

func TestCutBuildsVersionedAssets(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "checkout.bundle", []byte("checkout code v1"))
	writeAsset(t, dir, "search.bundle", []byte("search code v1"))

	m, err := Cut(dir)
	if err != nil {
		t.Fatalf("Cut failed: %v", err)
	}

	if m.DeploymentID == "" {
		t.Error("expected a deployment ID")
	}
	if len(m.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(m.Assets))
	}

	asset, ok := m.Assets["checkout"]
	if !ok {
		t.Fatal("missing checkout asset")
	}

	sum := sha256.Sum256([]byte("checkout code v1"))
	wantDigest := hex.EncodeToString(sum[:])
	if asset.SHA256 != wantDigest {
		t.Errorf("wrong digest: %s", asset.SHA256)
	}
	if asset.Version != wantDigest[:8] {
		t.Errorf("version should be digest prefix, got %s", asset.Version)
	}
	wantFile := "checkout." + wantDigest[:8] + ".bundle"
	if asset.FileName != wantFile {
		t.Errorf("expected file name %s, got %s", wantFile, asset.FileName)
	}
}

func TestCutChangesFileNamesWhenContentChanges(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "checkout.bundle", []byte("v1"))
	first, err := Cut(dir)
	if err != nil {
		t.Fatalf("Cut failed: %v", err)
	}

	writeAsset(t, dir, "checkout.bundle", []byte("v2"))
	second, err := Cut(dir)
	if err != nil {
		t.Fatalf("Cut failed: %v", err)
	}

	if first.Assets["checkout"].FileName == second.Assets["checkout"].FileName {
		t.Error("a new deployment of changed content must produce a new asset name")
	}
	if first.DeploymentID == second.DeploymentID {
		t.Error("deployment IDs must differ")
	}
}

func TestCutEmptyDirFails(t *testing.T) {
	if _, err := Cut(t.TempDir()); err == nil {
		t.Fatal("expected error for empty asset directory")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "ui.bundle", []byte("ui"))

	m, err := Cut(dir)
	if err != nil {
		t.Fatalf("Cut failed: %v", err)
	}

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.DeploymentID != m.DeploymentID {
		t.Errorf("deployment ID mangled: %s", parsed.DeploymentID)
	}
	if parsed.Assets["ui"].SHA256 != m.Assets["ui"].SHA256 {
		t.Error("asset digest mangled")
	}
}

func TestParseRejectsManifestWithoutDeploymentID(t *testing.T) {
	if _, err := Parse([]byte("assets: {}\n")); err == nil {
		t.Fatal("expected error for manifest without deployment_id")
	}
}

func TestVerify(t *testing.T) {
	payload := []byte("module payload")
	sum := sha256.Sum256(payload)
	asset := models.Asset{Module: "ui", SHA256: hex.EncodeToString(sum[:])}

	if err := Verify(asset, payload); err != nil {
		t.Fatalf("Verify rejected matching payload: %v", err)
	}

	err := Verify(asset, []byte("tampered"))
	if err == nil {
		t.Fatal("Verify accepted tampered payload")
	}
	var mismatch *ErrDigestMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %T", err)
	}
	if mismatch.Module != "ui" {
		t.Errorf("wrong module in error: %s", mismatch.Module)
	}
}
