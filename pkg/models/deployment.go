package models

import (
	"time"
)

// Asset is a single versioned module artifact referenced by a manifest.
// FileName carries the content hash, e.g. "checkout.a1b2c3d4.bundle".
type Asset struct {
	Module   string `json:"module" yaml:"module"`
	FileName string `json:"file_name" yaml:"file_name"`
	Version  string `json:"version" yaml:"version"`
	SHA256   string `json:"sha256" yaml:"sha256"`
	Size     int64  `json:"size" yaml:"size"`
}

// Manifest maps module names to the assets of one deployment. Clients hold
// a manifest for as long as they run; after a new deployment is cut the
// assets it references stop existing on the server.
type Manifest struct {
	DeploymentID string           `json:"deployment_id" yaml:"deployment_id"`
	CutAt        time.Time        `json:"cut_at" yaml:"cut_at"`
	Assets       map[string]Asset `json:"assets" yaml:"assets"` // keyed by module name
}

// Deployment records one manifest cut on the server
type Deployment struct {
	ID         string    `json:"id"`
	CutAt      time.Time `json:"cut_at"`
	AssetCount int       `json:"asset_count"`
	Comment    string    `json:"comment,omitempty"`
	Current    bool      `json:"current"`
}
