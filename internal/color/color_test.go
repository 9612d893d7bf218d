package color

import "testing"

func TestIsValidHex(t *testing.T) {
	tests := []struct {
		name  string
		color string
		want  bool
	}{
		{
			name:  "valid lowercase hex",
			color: "#ff5733",
			want:  true,
		},
		{
			name:  "valid uppercase hex",
			color: "#FF5733",
			want:  true,
		},
		{
			name:  "valid mixed case",
			color: "#Ff5733",
			want:  true,
		},
		{
			name:  "missing hash",
			color: "FF5733",
			want:  false,
		},
		{
			name:  "too short",
			color: "#FFF",
			want:  false,
		},
		{
			name:  "too long",
			color: "#FF57331",
			want:  false,
		},
		{
			name:  "invalid characters",
			color: "#GG5733",
			want:  false,
		},
		{
			name:  "empty string",
			color: "",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidHex(tt.color); got != tt.want {
				t.Errorf("IsValidHex(%q) = %v, want %v", tt.color, got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		color string
		want  string
	}{
		{
			name:  "valid color passes through",
			color: "#FF5733",
			want:  "#FF5733",
		},
		{
			name:  "surrounding whitespace trimmed",
			color: "  #FF5733  ",
			want:  "#FF5733",
		},
		{
			name:  "script injection rejected",
			color: "<script>#FF5733</script>",
			want:  "",
		},
		{
			name:  "invalid color rejected",
			color: "red",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.color); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.color, got, tt.want)
			}
		})
	}
}

func TestRandom(t *testing.T) {
	inPalette := make(map[string]bool, len(Palette))
	for _, c := range Palette {
		inPalette[c] = true
	}

	for i := 0; i < 100; i++ {
		got := Random()
		if !inPalette[got] {
			t.Fatalf("Random() = %q, not in palette", got)
		}
		if !IsValidHex(got) {
			t.Fatalf("Random() = %q, not a valid hex color", got)
		}
	}
}
