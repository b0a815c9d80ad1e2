package util

import "testing"

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain utf8",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "contains null byte",
			input: "hel\x00lo",
			want:  "hello",
		},
		{
			name:  "contains invalid utf8",
			input: string([]byte{'a', 0xff, 'b'}),
			want:  "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.com", "example.com"},
		{"https://www.Example.com:443/about", "example.com"},
		{"http://acme.io?ref=x", "acme.io"},
		{"  WWW.ACME.DE  ", "acme.de"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeDomain(tt.in); got != tt.want {
			t.Fatalf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail(" Jane.Doe@Acme.COM "); got != "jane.doe@acme.com" {
		t.Fatalf("unexpected email %q", got)
	}
	for _, bad := range []string{"", "no-at-sign", "@acme.com", "jane@"} {
		if got := NormalizeEmail(bad); got != "" {
			t.Fatalf("NormalizeEmail(%q) = %q, want empty", bad, got)
		}
	}
}

func TestJoinNonEmpty(t *testing.T) {
	got := JoinNonEmpty(" | ", "Acme", "", "  ", "acme.com")
	if got != "Acme | acme.com" {
		t.Fatalf("unexpected join %q", got)
	}
}
