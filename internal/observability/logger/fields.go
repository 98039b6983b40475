package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Bytes(v int) zap.Field { return zap.Int("bytes", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// Dispatch

// Op names the operation being dispatched.
func Op(v string) zap.Field { return zap.String("op", v) }

// Route records whether a call ran locally or was forwarded.
func Route(v string) zap.Field { return zap.String("route", v) }

func Key(v string) zap.Field { return zap.String("key", v) }

func Keys(v []string) zap.Field { return zap.Strings("keys", v) }

// Network

func Port(v int) zap.Field { return zap.Int("port", v) }

func Addr(v string) zap.Field { return zap.String("addr", v) }

func Phase(v string) zap.Field { return zap.String("phase", v) }

func Err(err error) zap.Field { return zap.Error(err) }
