// Package apk provides a minimal post-download sanity parse of Android
// APKs: package id, version name, and version code, as used by the Android
// downloader to confirm a downloaded file is actually the APK it claims to
// be, and by the --check-apk CLI verb.
//
// Signature verification and icon/label resource resolution are
// deliberately not implemented here — artifact signature verification is
// an explicit non-goal of the download pipeline.
package apk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shogo82148/androidbinary/apk"
)

// Info contains the metadata extracted from an APK file.
type Info struct {
	PackageID   string
	VersionName string
	VersionCode int64
	MinSDK      int32
	TargetSDK   int32

	FilePath string
	FileSize int64
	SHA256   string
}

// Parse extracts minimal metadata from the APK at path.
func Parse(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat APK: %w", err)
	}

	sum, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash APK: %w", err)
	}

	pkg, err := apk.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open APK: %w", err)
	}
	defer pkg.Close()

	manifest := pkg.Manifest()

	info := &Info{
		PackageID:   manifest.Package.MustString(),
		VersionName: manifest.VersionName.MustString(),
		VersionCode: int64(manifest.VersionCode.MustInt32()),
		MinSDK:      manifest.SDK.Min.MustInt32(),
		TargetSDK:   manifest.SDK.Target.MustInt32(),
		FilePath:    path,
		FileSize:    fi.Size(),
		SHA256:      sum,
	}

	if info.PackageID == "" {
		return nil, fmt.Errorf("APK manifest missing package id: %s", path)
	}

	return info, nil
}

// IsMeshtasticPackage reports whether the parsed APK's package id looks
// like a Meshtastic Android build (com.geeksville.mesh and its variants).
func (i *Info) IsMeshtasticPackage() bool {
	return strings.Contains(i.PackageID, "geeksville.mesh") || strings.Contains(i.PackageID, "meshtastic")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
