package downloaders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meshtastic/fetchtastic/internal/config"
	"github.com/meshtastic/fetchtastic/internal/releases"
)

func TestAndroidPlanBuildsTargetPaths(t *testing.T) {
	cfg := &config.Config{DownloadDir: t.TempDir(), SelectedAPKAssets: []string{"fdroid"}}
	a := NewAndroid(Deps{Config: cfg})

	rels := []releases.Release{
		{
			TagName: "v2.7.13",
			Assets: []releases.Asset{
				{Name: "app-fdroid-release.apk", DownloadURL: "http://x/fdroid.apk", SizeBytes: 100},
				{Name: "app-google-release.apk", DownloadURL: "http://x/google.apk", SizeBytes: 200},
			},
		},
	}

	tasks := a.Plan(rels)
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	want := filepath.Join(cfg.DownloadDir, "apks", "v2.7.13", "app-fdroid-release.apk")
	if tasks[0].TargetPath != want {
		t.Errorf("TargetPath = %q, want %q", tasks[0].TargetPath, want)
	}
	if tasks[0].Kind != KindAPK {
		t.Errorf("Kind = %q, want APK", tasks[0].Kind)
	}
}

func TestAndroidUpdateLatestTracker(t *testing.T) {
	cfg := &config.Config{DownloadDir: t.TempDir()}
	a := NewAndroid(Deps{Config: cfg})
	a.updateLatestTracker("v2.7.13")

	data, err := os.ReadFile(filepath.Join(a.root(), "latest_android_release.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "v2.7.13\n" {
		t.Errorf("tracker content = %q, want %q", data, "v2.7.13\n")
	}
}
