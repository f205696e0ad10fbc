package venvpipe

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"3.10.5", Version{3, 10, 5}},
		{"3.10", Version{3, 10, -1}},
		{"3", Version{3, -1, -1}},
		{"2.1.0-beta", Version{2, 1, 0}},
		{"3.13.0rc1", Version{3, 13, 0}},
		{" 3.11 \n", Version{3, 11, -1}},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if err != nil {
			t.Errorf("ParseVersion(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "abc", "-1.2"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Errorf("ParseVersion(%q) succeeded", bad)
		}
	}
}

func TestParsePythonVersion(t *testing.T) {
	v, err := ParsePythonVersion("Python 3.12.1\n")
	if err != nil {
		t.Fatal(err)
	}
	if v != (Version{3, 12, 1}) {
		t.Errorf("got %+v", v)
	}
	if _, err := ParsePythonVersion("Jython 2.7"); err == nil {
		t.Error("expected error for non Python output")
	}
}

func TestParsePipVersion(t *testing.T) {
	v, err := ParsePipVersion("pip 23.0.1 from /usr/lib/python3/dist-packages/pip (python 3.11)")
	if err != nil {
		t.Fatal(err)
	}
	if v != (Version{23, 0, 1}) {
		t.Errorf("got %+v", v)
	}
	if _, err := ParsePipVersion("uv 0.4"); err == nil {
		t.Error("expected error for non pip output")
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b Version
		want int
	}{
		{Version{3, 10, 5}, Version{3, 10, 5}, 0},
		{Version{3, 11, 0}, Version{3, 10, 9}, 1},
		{Version{2, 7, 18}, Version{3, 0, 0}, -1},
		{Version{3, 10, -1}, Version{3, 10, 0}, -1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestVersionSatisfies(t *testing.T) {
	v := Version{3, 11, 4}
	for _, pin := range []string{"3", "3.11", "3.11.4"} {
		p, _ := ParseVersion(pin)
		if !v.Satisfies(p) {
			t.Errorf("%s should satisfy %s", v, pin)
		}
	}
	for _, pin := range []string{"2", "3.12", "3.11.5"} {
		p, _ := ParseVersion(pin)
		if v.Satisfies(p) {
			t.Errorf("%s should not satisfy %s", v, pin)
		}
	}
}

func TestVersionString(t *testing.T) {
	for _, s := range []string{"3.10.5", "3.10", "3"} {
		v, _ := ParseVersion(s)
		if v.String() != s {
			t.Errorf("String() = %q, want %q", v.String(), s)
		}
	}
	if got := (Version{3, 9, 1}).MinorString(); got != "3.9" {
		t.Errorf("MinorString() = %q", got)
	}
}
