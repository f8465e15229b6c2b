package deploy

import (
	"crypto/sha256"
	"encoding/hex"
)

// AssetEntry describes one static asset by content hash and size.
type AssetEntry struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// AssetManifest maps asset paths (relative, forward slashes) to their
// content-addressed entries.
type AssetManifest map[string]AssetEntry

// HashBytes computes the content address for an asset. The hash is a
// pure function of the bytes, so identical build output always produces
// an identical manifest.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

// BuildAssetManifest hashes every asset. The manifest depends only on
// the contents, so rebuilding from the same files is idempotent.
func BuildAssetManifest(contents map[string][]byte) AssetManifest {
	manifest := AssetManifest{}
	for key, data := range contents {
		manifest[key] = AssetEntry{Hash: HashBytes(data), Size: int64(len(data))}
	}
	return manifest
}
