package di_test

import (
	"testing"

	"github.com/fd1az/swapengine/internal/di"
)

type greeter struct{ name string }

func TestContainer_LazySingleton(t *testing.T) {
	c := di.NewContainer()
	token := di.NewToken[*greeter]("test.greeter")

	builds := 0
	di.RegisterToken(c, token, func(sr di.ServiceRegistry) *greeter {
		builds++
		return &greeter{name: sr.Get("name").(string)}
	})
	c.Register("name", "swap")

	first := di.GetToken(c, token)
	second := di.GetToken(c, token)

	if first != second {
		t.Error("expected the same instance")
	}
	if builds != 1 {
		t.Errorf("factory ran %d times, want 1", builds)
	}
	if first.name != "swap" {
		t.Errorf("name = %s", first.name)
	}
	if !c.Has(token.Name()) {
		t.Error("Has should report registered token")
	}
}

func TestContainer_PanicsOnMissingAndCycle(t *testing.T) {
	c := di.NewContainer()

	assertPanics(t, func() { c.Get("missing") })

	c.RegisterFactory("a", func(sr di.ServiceRegistry) any { return sr.Get("b") })
	c.RegisterFactory("b", func(sr di.ServiceRegistry) any { return sr.Get("a") })
	assertPanics(t, func() { c.Get("a") })
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fn()
}
