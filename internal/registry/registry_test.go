package registry

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
)

type record struct {
	tag  string
	body string
}

func (r record) TypeTag() string { return r.tag }

func upper(r record) (string, error) {
	if r.body == "" {
		return "", errors.New("empty body")
	}
	return strings.ToUpper(r.body), nil
}

func TestRegisterDuplicate(t *testing.T) {
	r := New[record, string]("test", logging.Discard())
	if err := r.Register("Known", upper); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := r.Register("Known", upper)
	if !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("expected ErrDuplicateTag, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := New[record, string]("test", nil)
	if err := r.Register("", upper); err == nil {
		t.Error("expected error for empty tag")
	}
	if err := r.Register("x", nil); err == nil {
		t.Error("expected error for nil decoder")
	}
}

func TestMustRegisterPanicsOnCollision(t *testing.T) {
	r := New[record, string]("test", nil)
	r.MustRegister("Known", upper)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.MustRegister("Known", upper)
}

func TestDecode(t *testing.T) {
	var diag bytes.Buffer
	logger := logging.New(nil, &diag)
	r := New[record, string]("process", logger)
	r.MustRegister("Known", upper)

	tests := []struct {
		name   string
		rec    record
		want   string
		ok     bool
		fatals int
	}{
		{"known", record{"Known", "abc"}, "ABC", true, 0},
		{"unknown tag", record{"Unregistered", "abc"}, "", false, 1},
		{"decoder error", record{"Known", ""}, "", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Decode(tt.rec)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Decode() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
			if n := logger.Count(logging.LevelFatal); n != tt.fatals {
				t.Errorf("fatal count = %d, want %d", n, tt.fatals)
			}
		})
	}

	if !strings.Contains(diag.String(), "Unregistered") {
		t.Errorf("diagnostic should name the unknown tag: %q", diag.String())
	}
}

func TestResolveDoesNotLog(t *testing.T) {
	logger := logging.Discard()
	r := New[record, string]("task", logger)

	_, err := r.Resolve(record{tag: "nope"})
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if logger.Count(logging.LevelFatal) != 0 {
		t.Error("Resolve must not write diagnostics")
	}
}

func TestTagsSorted(t *testing.T) {
	r := New[record, string]("test", nil)
	r.MustRegister("b", upper)
	r.MustRegister("a", upper)
	r.MustRegister("c", upper)

	got := strings.Join(r.Tags(), ",")
	if got != "a,b,c" {
		t.Errorf("Tags() = %s, want a,b,c", got)
	}
	if !r.Has("b") || r.Has("z") {
		t.Error("Has() mismatch")
	}
}
