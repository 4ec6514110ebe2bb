package targets

import (
	"errors"
	"testing"
)

func TestIsValidIPv4(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"192.168.1.1", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"10.0.0.01", true},
		{"256.1.1.1", false},
		{"1.2.3", false},
		{"1.2.3.4.5", false},
		{"a.b.c.d", false},
		{"1.2.3.-4", false},
		{"1.2.3.4 ", false},
		{" 1.2.3.4", false},
		{"1.2.3.4/24", false},
		{"1..3.4", false},
		{"1000.1.1.1", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsValidIPv4(tt.input); got != tt.want {
				t.Errorf("IsValidIPv4(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCheckAddress(t *testing.T) {
	if err := CheckAddress("10.1.2.3"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	if err := CheckAddress("300.1.2.3"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err := CheckAddress(""); err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "dashes", input: "aa-bb-cc-dd-ee-ff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "bare", input: "AABBCCDDEEFF", want: "AA:BB:CC:DD:EE:FF"},
		{name: "colons lower", input: "aa:bb:cc:dd:ee:ff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "cisco dots", input: "aabb.ccdd.eeff", want: "AA:BB:CC:DD:EE:FF"},
		{name: "too short", input: "aa:bb:cc:dd:ee", wantErr: true},
		{name: "too long", input: "aa:bb:cc:dd:ee:ff:00", wantErr: true},
		{name: "not hex", input: "gg:bb:cc:dd:ee:ff", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMAC(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMacFormat) {
					t.Fatalf("NormalizeMAC(%q) error = %v, want ErrInvalidMacFormat", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeMAC(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeMACIdempotent(t *testing.T) {
	first, err := NormalizeMAC("00-1a-2b-3c-4d-5e")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	second, err := NormalizeMAC(first)
	if err != nil {
		t.Fatalf("renormalize: %v", err)
	}
	if first != second {
		t.Fatalf("not idempotent: %q then %q", first, second)
	}
}

func TestSubnet(t *testing.T) {
	if got := Subnet("192.168.10.42"); got != "192.168.10" {
		t.Errorf("Subnet = %q", got)
	}
	if got := Subnet(""); got != OthersGroup {
		t.Errorf("Subnet(empty) = %q", got)
	}
	if got := Subnet("printer.local"); got != OthersGroup {
		t.Errorf("Subnet(hostname) = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  192.168.1.5 ":            "192.168.1.5",
		"http://10.0.0.1:8080/path": "10.0.0.1",
		"admin@10.0.0.2":            "10.0.0.2",
		"Router.LAN:22":             "router.lan",
	}
	for input, want := range tests {
		if got := Normalize(input); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
