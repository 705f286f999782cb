package destination

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		kind    Kind
		wantErr bool
	}{
		{"valid phone", "0987654321", "0987654321", KindPhone, false},
		{"phone with whitespace", "  0987654321 ", "0987654321", KindPhone, false},
		{"phone too short", "098765432", "", "", true},
		{"phone too long", "09876543210", "", "", true},
		{"valid email", "Dealer@Example.COM", "dealer@example.com", KindEmail, false},
		{"email with whitespace", " a@b.com ", "a@b.com", KindEmail, false},
		{"missing local part", "@example.com", "", "", true},
		{"missing domain", "dealer@", "", "", true},
		{"empty", "", "", "", true},
		{"garbage", "not-a-destination", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind, err := Normalize(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) expected error, got %q", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			if kind != tt.kind {
				t.Errorf("Normalize(%q) kind = %q, want %q", tt.raw, kind, tt.kind)
			}
		})
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"9876543210", "***210"},
		{"0901234567", "***567"},
		{"ab@x.com", "ab***@x.com"},
		{"a@x.com", "a***@x.com"},
		{"dealer@example.com", "de***@example.com"},
		{"not valid", "***"},
		{"", "***"},
	}

	for _, tt := range tests {
		if got := Mask(tt.raw); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
