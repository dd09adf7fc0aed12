package main

import (
	"fmt"
	"sort"
	"time"

	"duplex-rpc/endpoint"
	"duplex-rpc/message"
)

// Demo is the provider served by "duplexctl serve".
type Demo struct {
	endpoint.ProviderBase
	started time.Time
}

func (d *Demo) Echo(args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"args": args, "kwargs": kwargs}, nil
}

func (d *Demo) Add(args []any, kwargs map[string]any) (any, error) {
	var sum int64
	for i, a := range args {
		n, ok := message.Int64(a)
		if !ok {
			return nil, endpoint.NewError("TypeError", fmt.Sprintf("argument %d is not an integer", i), a)
		}
		sum += n
	}
	return sum, nil
}

// Keys returns the sorted kwargs names.
func (d *Demo) Keys(args []any, kwargs map[string]any) (any, error) {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Demo) Uptime(args []any, kwargs map[string]any) (any, error) {
	return time.Since(d.started).Round(time.Millisecond).String(), nil
}

// Hello asks the caller for its name, so both directions of the connection get used.
func (d *Demo) Hello(args []any, kwargs map[string]any) (any, error) {
	name, err := d.FarInterface().Invoke("name")
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("hello, %v", name), nil
}
