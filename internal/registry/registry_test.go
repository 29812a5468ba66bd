package registry

import (
	"reflect"
	"testing"

	"github.com/oriys/jana2go/internal/arrow"
	"github.com/oriys/jana2go/internal/event"
	"github.com/oriys/jana2go/internal/factory"
	"github.com/oriys/jana2go/internal/mailbox"
)

func TestRegisterSourceAndLookup(t *testing.T) {
	r := New()
	if err := r.RegisterSource("demo", func() (any, error) { return "demo-instance", nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, ok := r.Source("demo")
	if !ok {
		t.Fatal("expected to find the registered source")
	}
	got, err := f()
	if err != nil || got != "demo-instance" {
		t.Fatalf("unexpected factory result: %v err=%v", got, err)
	}
}

func TestRegisterSourceRejectsDuplicate(t *testing.T) {
	r := New()
	r.RegisterSource("demo", func() (any, error) { return nil, nil })
	if err := r.RegisterSource("demo", func() (any, error) { return nil, nil }); err == nil {
		t.Fatal("expected an error registering the same source name twice")
	}
}

func TestCloseRejectsFurtherRegistrations(t *testing.T) {
	r := New()
	r.Close()
	if !r.Closed() {
		t.Fatal("expected Closed() to report true after Close")
	}
	if err := r.RegisterSource("demo", func() (any, error) { return nil, nil }); err == nil {
		t.Fatal("expected RegisterSource to fail once the registry is closed")
	}
	if err := r.RegisterPlugin("demo-plugin"); err == nil {
		t.Fatal("expected RegisterPlugin to fail once the registry is closed")
	}
}

func TestSourceLookupMissingReturnsFalse(t *testing.T) {
	r := New()
	if _, ok := r.Source("missing"); ok {
		t.Fatal("expected lookup of an unregistered source to fail")
	}
}

func TestRegisterArrowAndLookup(t *testing.T) {
	r := New()
	in := mailbox.New("in", 1, 10)
	out := mailbox.New("out", 1, 10)
	err := r.RegisterArrow("doubler", func() (arrow.Arrow, error) {
		return arrow.NewMapArrow("doubler", in, out, func(ev *event.Event) (*event.Event, error) {
			return ev, nil
		}, 5), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, ok := r.Arrow("doubler")
	if !ok {
		t.Fatal("expected to find the registered arrow")
	}
	a, err := f()
	if err != nil || a.Name() != "doubler" {
		t.Fatalf("unexpected arrow factory result: %v err=%v", a, err)
	}
}

func TestRegisterArrowRejectsDuplicate(t *testing.T) {
	r := New()
	f := func() (arrow.Arrow, error) { return nil, nil }
	r.RegisterArrow("doubler", f)
	if err := r.RegisterArrow("doubler", f); err == nil {
		t.Fatal("expected an error registering the same arrow name twice")
	}
}

func TestRegisterProcessorAndLookup(t *testing.T) {
	r := New()
	err := r.RegisterProcessor("logger", func() (arrow.Processor, error) {
		return arrow.FuncProcessor(func(ev *event.Event) error { return nil }), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.Processor("logger"); !ok {
		t.Fatal("expected to find the registered processor")
	}
}

func TestRegisterFactoryGeneratorAndLookup(t *testing.T) {
	r := New()
	err := r.RegisterFactoryGenerator("Track:kalman", func() (*factory.Factory, error) {
		return factory.NewFactory(reflect.TypeOf(0), "kalman", func(ctx any) ([]any, error) {
			return nil, nil
		}, factory.FlagNone), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gen, ok := r.FactoryGenerator("Track:kalman")
	if !ok {
		t.Fatal("expected to find the registered factory generator")
	}
	if _, err := gen(); err != nil {
		t.Fatalf("unexpected error constructing factory: %v", err)
	}
}

func TestRegisterServiceAndLookup(t *testing.T) {
	r := New()
	err := r.RegisterService("calib-db", func() (any, error) { return "calib-handle", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, ok := r.Service("calib-db")
	if !ok {
		t.Fatal("expected to find the registered service")
	}
	got, err := f()
	if err != nil || got != "calib-handle" {
		t.Fatalf("unexpected service factory result: %v err=%v", got, err)
	}
}

func TestCloseRejectsNewComponentKindsToo(t *testing.T) {
	r := New()
	r.Close()
	if err := r.RegisterArrow("doubler", func() (arrow.Arrow, error) { return nil, nil }); err == nil {
		t.Fatal("expected RegisterArrow to fail once the registry is closed")
	}
	if err := r.RegisterProcessor("logger", func() (arrow.Processor, error) { return nil, nil }); err == nil {
		t.Fatal("expected RegisterProcessor to fail once the registry is closed")
	}
	if err := r.RegisterFactoryGenerator("Track:kalman", func() (*factory.Factory, error) { return nil, nil }); err == nil {
		t.Fatal("expected RegisterFactoryGenerator to fail once the registry is closed")
	}
	if err := r.RegisterService("calib-db", func() (any, error) { return nil, nil }); err == nil {
		t.Fatal("expected RegisterService to fail once the registry is closed")
	}
}
