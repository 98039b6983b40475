// Package demo is the application served by the appserve binary: a greeter
// with one piece of state.
package demo

import (
	"errors"
	"strings"

	"github.com/ln64-git/dynamic-server-app-template/internal/instance"
)

// DefaultMessage is the message a fresh greeter starts with.
const DefaultMessage = "hi"

// ErrEmptyMessage is returned by SetMessage for a blank message.
var ErrEmptyMessage = errors.New("message must not be empty")

// Greeter is the demo instance. Its state is {port, message}.
type Greeter struct {
	instance.Base
	Message string `json:"message"`
}

// New returns a greeter with the default message.
func New() *Greeter {
	return &Greeter{Message: DefaultMessage}
}

// Greet returns a greeting for name. It does not touch state.
func (g *Greeter) Greet(name string) string {
	return "hello " + name
}

// SetMessage replaces the message.
func (g *Greeter) SetMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return ErrEmptyMessage
	}
	g.Message = msg
	return nil
}

// Reset restores the default message.
func (g *Greeter) Reset() {
	g.Message = DefaultMessage
}
