package factory

import "testing"

type pump struct{ Rate float64 }

type pumpConf struct {
	Rate float64 `json:"rate"`
}

func pumpFactory(conf map[string]any) (*pump, error) {
	var c pumpConf
	if err := Decode(conf, &c); err != nil {
		return nil, err
	}
	return &pump{Rate: c.Rate}, nil
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*pump]()
	if err := reg.Register("pump", pumpFactory); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "pump", Conf: map[string]any{"rate": 2.5}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Rate != 2.5 {
		t.Fatalf("expected 2.5 got %v", inst.Rate)
	}
}

func TestRegistry_NilConfAndWeakTypes(t *testing.T) {
	reg := NewRegistry[*pump]()
	_ = reg.Register("pump", pumpFactory)
	inst, err := reg.Create(ModuleConfig{Type: "pump"})
	if err != nil || inst.Rate != 0 {
		t.Fatalf("nil conf: %v %v", inst, err)
	}
	inst, err = reg.Create(ModuleConfig{Type: "pump", Conf: map[string]any{"rate": "1.5"}})
	if err != nil || inst.Rate != 1.5 {
		t.Fatalf("string rate: %v %v", inst, err)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("z", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "y"}); err == nil {
		t.Fatal("expected unknown type error")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("unexpected names %v", names)
	}
}
