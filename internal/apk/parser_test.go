package apk

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRejectsNonAPK(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-an-apk.apk")
	if err := os.WriteFile(path, []byte("not a zip file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(path); err == nil {
		t.Fatal("expected error parsing garbage bytes as an APK")
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := Parse(filepath.Join(t.TempDir(), "missing.apk")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIsMeshtasticPackage(t *testing.T) {
	tests := []struct {
		pkg  string
		want bool
	}{
		{"com.geeksville.mesh", true},
		{"com.geeksville.mesh.debug", true},
		{"com.example.meshtastic", true},
		{"com.example.other", false},
	}
	for _, tt := range tests {
		info := &Info{PackageID: tt.pkg}
		if got := info.IsMeshtasticPackage(); got != tt.want {
			t.Errorf("IsMeshtasticPackage(%q) = %v, want %v", tt.pkg, got, tt.want)
		}
	}
}
