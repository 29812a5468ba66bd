package factory

import (
	"reflect"
	"testing"
)

type track struct{ id int }

func TestGetMemoizesProcess(t *testing.T) {
	calls := 0
	s := NewSet(nil)
	f := NewFactory(reflect.TypeOf(track{}), "", func(ctx any) ([]any, error) {
		calls++
		return []any{track{id: 1}, track{id: 2}}, nil
	}, FlagNone)
	s.Register(f)

	got, err := Get[track](s, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].id != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}

	if _, err := Get[track](s, nil, ""); err != nil {
		t.Fatalf("unexpected error on second Get: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected Process to run exactly once, ran %d times", calls)
	}
}

func TestGetUnknownFactoryIsConfigurationError(t *testing.T) {
	s := NewSet(nil)
	if _, err := Get[track](s, nil, "missing"); err == nil {
		t.Fatal("expected an error looking up an unregistered factory")
	}
}

func TestInsertDirectSkipsProcess(t *testing.T) {
	s := NewSet(nil)
	Insert[track](s, "", []track{{id: 7}})

	got, err := Get[track](s, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].id != 7 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResetAllReenablesRecompute(t *testing.T) {
	calls := 0
	s := NewSet(nil)
	f := NewFactory(reflect.TypeOf(track{}), "", func(ctx any) ([]any, error) {
		calls++
		return []any{track{id: calls}}, nil
	}, FlagNone)
	s.Register(f)

	Get[track](s, nil, "")
	s.ResetAll()
	Get[track](s, nil, "")

	if calls != 2 {
		t.Fatalf("expected Process to re-run after ResetAll, ran %d times", calls)
	}
}

func TestPersistentFlagSurvivesReset(t *testing.T) {
	calls := 0
	s := NewSet(nil)
	f := NewFactory(reflect.TypeOf(track{}), "", func(ctx any) ([]any, error) {
		calls++
		return []any{track{id: calls}}, nil
	}, FlagPersistent)
	s.Register(f)

	Get[track](s, nil, "")
	s.ResetAll()
	Get[track](s, nil, "")

	if calls != 1 {
		t.Fatalf("expected a persistent factory not to recompute after ResetAll, ran %d times", calls)
	}
}

func TestProcessPanicBecomesUserComponentFailure(t *testing.T) {
	s := NewSet(nil)
	f := NewFactory(reflect.TypeOf(track{}), "", func(ctx any) ([]any, error) {
		panic("boom")
	}, FlagNone)
	s.Register(f)

	_, err := Get[track](s, nil, "")
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

type trackView interface{ ID() int }

func (t track) ID() int { return t.id }

func TestGetAsUsesUpcaster(t *testing.T) {
	table := make(map[reflect.Type]map[reflect.Type]func(any) any)
	RegisterUpcaster(table, reflect.TypeOf(track{}), reflect.TypeOf((*trackView)(nil)).Elem(), func(v any) any {
		return v.(track)
	})

	s := NewSet(table)
	Insert[track](s, "", []track{{id: 42}})

	views, err := GetAs[trackView](s, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 1 || views[0].ID() != 42 {
		t.Fatalf("unexpected views: %+v", views)
	}
}
