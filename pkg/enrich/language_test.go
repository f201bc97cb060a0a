package enrich

import (
	"testing"

	"github.com/pemistahl/lingua-go"
)

func TestLinguaDetector(t *testing.T) {
	d := NewLinguaDetector(lingua.English, lingua.French, lingua.German, lingua.Spanish)

	tests := []struct {
		text string
		want string
	}{
		{"The weather is lovely today and I am going for a long walk in the park.", "en"},
		{"Je pense que ce film est vraiment magnifique, je le recommande à tout le monde.", "fr"},
		{"Ich glaube nicht, dass wir heute noch rechtzeitig nach Hause kommen werden.", "de"},
		{"Mañana vamos a la playa con toda la familia si no llueve.", "es"},
	}
	for _, tt := range tests {
		if got := d.Detect(tt.text); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
