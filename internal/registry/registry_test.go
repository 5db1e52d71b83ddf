package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/objectname"
)

type hookObj struct {
	mu      sync.Mutex
	calls   []string
	preErr  error
	emitter *event.Emitter
	attrs   map[string]any
}

func newHookObj() *hookObj {
	return &hookObj{emitter: event.NewEmitter(), attrs: map[string]any{"Size": 1}}
}

func (h *hookObj) record(s string) {
	h.mu.Lock()
	h.calls = append(h.calls, s)
	h.mu.Unlock()
}

func (h *hookObj) PreRegister(*Registry, objectname.Name) error { h.record("pre"); return h.preErr }
func (h *hookObj) PostRegister(_ *Registry, ok bool) {
	if ok {
		h.record("post")
	} else {
		h.record("post-failed")
	}
}
func (h *hookObj) PreDeregister(*Registry) error { h.record("predereg"); return nil }
func (h *hookObj) PostDeregister(*Registry) { h.record("postdereg") }
func (h *hookObj) Notifications() *event.Emitter { return h.emitter }
func (h *hookObj) AttributeNames() []string { return []string{"Size"} }
func (h *hookObj) Attribute(name string) (any, error) {
	v, ok := h.attrs[name]
	if !ok {
		return nil, ErrAttributeNotFound
	}
	return v, nil
}
func (h *hookObj) SetAttribute(name string, v any) error {
	if _, ok := h.attrs[name]; !ok {
		return ErrAttributeNotFound
	}
	h.attrs[name] = v
	return nil
}
func (h *hookObj) Invoke(_ context.Context, op string, _ ...any) (any, error) {
	if op == "ping" {
		return "pong", nil
	}
	return nil, ErrOperationNotFound
}

var testName = objectname.MustParse("test:j2eeType=Thing,name=a")

func TestRegisterLifecycleHooks(t *testing.T) {
	r := New()
	var regEvents []event.Type
	r.Events().Subscribe(func(n event.Notification) { regEvents = append(regEvents, n.Type) })

	obj := newHookObj()
	if err := r.Register(obj, testName); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.IsRegistered(testName) || r.Count() != 1 {
		t.Fatalf("object should be registered")
	}
	if err := r.Register(newHookObj(), testName); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := r.Unregister(testName); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := r.Unregister(testName); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	want := []string{"pre", "post", "predereg", "postdereg"}
	if len(obj.calls) != len(want) {
		t.Fatalf("hook calls = %v, want %v", obj.calls, want)
	}
	for i := range want {
		if obj.calls[i] != want[i] {
			t.Fatalf("hook calls = %v, want %v", obj.calls, want)
		}
	}
	if len(regEvents) != 2 || regEvents[0] != event.ObjectRegistered || regEvents[1] != event.ObjectUnregistered {
		t.Fatalf("unexpected registry events %v", regEvents)
	}
}

func TestPreRegisterErrorAborts(t *testing.T) {
	r := New()
	obj := newHookObj()
	obj.preErr = errors.New("nope")
	if err := r.Register(obj, testName); err == nil {
		t.Fatalf("expected error")
	}
	if r.IsRegistered(testName) {
		t.Fatalf("object must not be registered")
	}
}

func TestQueryAttributesInvokeListeners(t *testing.T) {
	r := New()
	names := []string{
		"test:j2eeType=Thing,name=a",
		"test:j2eeType=Thing,name=b",
		"test:j2eeType=Other,name=c",
		"other:j2eeType=Thing,name=d",
	}
	for _, s := range names {
		if err := r.Register(newHookObj(), objectname.MustParse(s)); err != nil {
			t.Fatal(err)
		}
	}
	got := r.Query(objectname.MustPattern("test:j2eeType=Thing,*"))
	if len(got) != 2 {
		t.Fatalf("query returned %v", got)
	}
	if got := r.Query(objectname.DomainPattern("test")); len(got) != 3 {
		t.Fatalf("domain query returned %v", got)
	}

	if v, err := r.GetAttribute(testName, "Size"); err != nil || v != 1 {
		t.Fatalf("GetAttribute = %v, %v", v, err)
	}
	if err := r.SetAttribute(testName, "Size", 2); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.GetAttribute(testName, "Size"); v != 2 {
		t.Fatalf("SetAttribute not applied: %v", v)
	}
	if _, err := r.GetAttribute(objectname.MustParse("test:name=zzz"), "Size"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if out, err := r.Invoke(context.Background(), testName, "ping"); err != nil || out != "pong" {
		t.Fatalf("Invoke = %v, %v", out, err)
	}

	received := 0
	sub, err := r.AddListener(testName, func(event.Notification) { received++ })
	if err != nil {
		t.Fatal(err)
	}
	obj, _ := r.Lookup(testName)
	obj.(*hookObj).emitter.Emit(event.Notification{Type: event.StateRunning, Source: testName})
	if received != 1 {
		t.Fatalf("listener not called")
	}
	if err := r.RemoveListener(testName, sub); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveListener(testName, sub); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second removal should report ErrNotFound, got %v", err)
	}
}

func TestConcurrentRegisterSameName(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Register(newHookObj(), testName); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("exactly one registration should win, got %d", succeeded)
	}
}
