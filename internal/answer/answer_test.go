package answer

import (
	"errors"
	"testing"

	"xiaov/internal/answer/baidu"
	"xiaov/internal/answer/turing"
)

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()
	p, err := New(Config{Type: TypeTuring})
	if err != nil {
		t.Fatalf("New turing: %v", err)
	}
	if _, ok := p.(*turing.Client); !ok {
		t.Fatalf("provider = %T, want *turing.Client", p)
	}
	p, err = New(Config{Type: TypeBaidu})
	if err != nil {
		t.Fatalf("New baidu: %v", err)
	}
	if _, ok := p.(*baidu.Client); !ok {
		t.Fatalf("provider = %T, want *baidu.Client", p)
	}
	if _, err := New(Config{Type: 7}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("New(7) err = %v, want ErrUnknownType", err)
	}
}
