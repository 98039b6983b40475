package instance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type app struct {
	Base
	Name string `json:"name"`
}

func (a *app) Hello() string { return "hi " + a.Name }

func TestBaseAddress(t *testing.T) {
	a := &app{}
	a.SetPort(2000)
	assert.Equal(t, "127.0.0.1:2000", a.Address())
	assert.Same(t, &a.Base, a.AppBase())
}

func TestServingFlag(t *testing.T) {
	a := &app{}
	assert.False(t, a.Serving())
	a.MarkServing(true)
	assert.True(t, a.Serving())
}

func TestLogBufferIsBounded(t *testing.T) {
	a := &app{}
	for i := 0; i < DefaultLogLimit+10; i++ {
		a.AppendLog(fmt.Sprintf("line %d", i))
	}
	logs := a.Logs()
	assert.Len(t, logs, DefaultLogLimit)
	assert.Equal(t, "line 10", logs[0])

	// Returned slice is a copy.
	logs[0] = "changed"
	assert.Equal(t, "line 10", a.Logs()[0])
}

func TestLifecycleMethods(t *testing.T) {
	names := LifecycleMethods()
	for _, n := range []string{"AppBase", "Address", "SetPort", "Serving", "MarkServing", "AppendLog", "Logs", "ComputedState"} {
		assert.Contains(t, names, n)
	}
	assert.NotContains(t, names, "Hello")
}
