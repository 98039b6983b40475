// Package instance defines the application instance contract shared by the
// state model, the operation table, the server and the runtime.
//
// An application is a struct that embeds Base:
//
//	type Greeter struct {
//	    instance.Base
//	    Message string `json:"message"`
//	}
//
//	func (g *Greeter) Greet(name string) string { return "hello " + name }
//
// Exported fields with a json name are state. Exported methods are published
// as operations, except the lifecycle methods promoted from Base.
package instance

import (
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultLogLimit bounds the instance log buffer.
const DefaultLogLimit = 200

// Instance is implemented by every struct that embeds Base.
type Instance interface {
	AppBase() *Base
}

// Base carries the address and the reserved runtime fields of an instance.
//
// Port is visible in snapshots but read-only to patches. The serving flag
// and the log buffer are unexported and never part of state.
type Base struct {
	Port int `json:"port" state:"port,readonly"`

	serving atomic.Bool

	logMu sync.Mutex
	logs  []string
}

// AppBase returns the embedded Base.
func (b *Base) AppBase() *Base { return b }

// Address returns the loopback host:port of the instance.
func (b *Base) Address() string {
	return "127.0.0.1:" + strconv.Itoa(b.Port)
}

// SetPort updates the address field. Callers hold the executor lock.
func (b *Base) SetPort(port int) { b.Port = port }

// Serving reports whether this process is the authoritative server.
func (b *Base) Serving() bool { return b.serving.Load() }

// MarkServing flips the serving flag.
func (b *Base) MarkServing(v bool) { b.serving.Store(v) }

// AppendLog adds a line to the log buffer, dropping the oldest past DefaultLogLimit.
func (b *Base) AppendLog(line string) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.logs = append(b.logs, line)
	if over := len(b.logs) - DefaultLogLimit; over > 0 {
		b.logs = append([]string(nil), b.logs[over:]...)
	}
}

// Logs returns a copy of the log buffer.
func (b *Base) Logs() []string {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	return append([]string(nil), b.logs...)
}

// LifecycleMethods returns the names of the methods Base promotes into every
// instance. They are never published as operations.
func LifecycleMethods() map[string]struct{} {
	lifecycleOnce.Do(func() {
		t := reflect.TypeOf(&Base{})
		lifecycle = make(map[string]struct{}, t.NumMethod()+1)
		for i := 0; i < t.NumMethod(); i++ {
			lifecycle[t.Method(i).Name] = struct{}{}
		}
		// Hook implemented by instances with derived state.
		lifecycle["ComputedState"] = struct{}{}
	})
	return lifecycle
}

var (
	lifecycleOnce sync.Once
	lifecycle     map[string]struct{}
)
