package version

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in      string
		wantOK  bool
		release []int
		pre     string
		local   string
	}{
		{"v2.7.13", true, []int{2, 7, 13}, "", ""},
		{"2.7.13.abcdef1", true, []int{2, 7, 13}, "", "abcdef1"},
		{"2.7.13-rc.1", true, []int{2, 7, 13}, "rc", ""},
		{"2.7.13-alpha2", true, []int{2, 7, 13}, "a", ""},
		{"", false, nil, "", ""},
		{"not-a-version", false, nil, "", ""},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := Normalize(c.in)
			if ok != c.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			}
			if !ok {
				return
			}
			if len(got.Release) != len(c.release) {
				t.Fatalf("Release = %v, want %v", got.Release, c.release)
			}
			for i := range c.release {
				if got.Release[i] != c.release[i] {
					t.Fatalf("Release = %v, want %v", got.Release, c.release)
				}
			}
			if got.Pre != c.pre {
				t.Fatalf("Pre = %q, want %q", got.Pre, c.pre)
			}
			if got.Local != c.local {
				t.Fatalf("Local = %q, want %q", got.Local, c.local)
			}
		})
	}
}

func TestCompareTotalOrder(t *testing.T) {
	cases := []struct{ a, b string }{
		{"v2.7.13", "v2.7.14"},
		{"2.7.13-alpha2", "2.7.13-beta1"},
		{"2.7.13-beta1", "2.7.13-rc.1"},
		{"2.7.13-rc.1", "2.7.13"},
		{"2.7.13", "2.7.13.abcdef1"},
		{"1.2", "1.2.0"},
	}
	for _, c := range cases {
		t.Run(c.a+"_lt_"+c.b, func(t *testing.T) {
			if got := Compare(c.a, c.b); got != -1 {
				t.Errorf("Compare(%q,%q) = %d, want -1", c.a, c.b, got)
			}
			if got := Compare(c.b, c.a); got != 1 {
				t.Errorf("Compare(%q,%q) = %d, want 1", c.b, c.a, got)
			}
		})
	}
}

func TestCompareSymmetry(t *testing.T) {
	pairs := [][2]string{
		{"v1.0.0", "v1.0.0"},
		{"v1.0.0", "v2.0.0"},
		{"weird-tag", "v1.0.0"},
		{"weird-tag", "also-weird"},
	}
	for _, p := range pairs {
		if Compare(p[0], p[1])+Compare(p[1], p[0]) != 0 {
			t.Errorf("Compare(%q,%q) + Compare(%q,%q) != 0", p[0], p[1], p[1], p[0])
		}
	}
}

func TestExtractCleanVersion(t *testing.T) {
	cases := map[string]string{
		"2.7.13.abcdef1": "v2.7.13",
		"v2.7.13-rc.1":   "v2.7.13",
		"not-a-version":  "",
	}
	for in, want := range cases {
		if got := ExtractCleanVersion(in); got != want {
			t.Errorf("ExtractCleanVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpectedNextPatch(t *testing.T) {
	if got := ExpectedNextPatch("v2.7.13"); got != "v2.7.14" {
		t.Errorf("ExpectedNextPatch = %q, want v2.7.14", got)
	}
}

func TestBaseVersion(t *testing.T) {
	base, ok := BaseVersion("2.7.14-alpha3")
	if !ok || base != "2.7.14" {
		t.Errorf("BaseVersion = %q, %v, want 2.7.14, true", base, ok)
	}
}
