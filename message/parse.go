package message

import (
	"errors"
	"fmt"
)

// Shape violations reported by Parse. All of them are fatal to the connection.
var (
	ErrMissingSerial = errors.New("missing serial")
	ErrBadSerial     = errors.New("bad serial")
	ErrNoCommand     = errors.New("neither cmd nor ref present")
	ErrAmbiguous     = errors.New("both cmd and ref present")
	ErrBadField      = errors.New("malformed field")
)

// Parse validates the shape of a wire dictionary and returns the typed envelope.
// Missing args/kwargs on a request become empty values; kwargs keys are stringified and
// values normalized so handlers see the same shapes regardless of the peer's codec.
func Parse(m Map) (*Envelope, error) {
	raw, ok := m[FieldSerial]
	if !ok || raw == nil {
		return nil, ErrMissingSerial
	}
	serial, ok := Int64(raw)
	if !ok || serial < 0 {
		return nil, fmt.Errorf("%w: %v", ErrBadSerial, raw)
	}

	cmdRaw, hasCmd := m[FieldCmd]
	refRaw, hasRef := m[FieldRef]
	hasCmd = hasCmd && cmdRaw != nil
	hasRef = hasRef && refRaw != nil

	switch {
	case hasCmd && hasRef:
		return nil, ErrAmbiguous
	case hasCmd:
		return parseRequest(serial, cmdRaw, m)
	case hasRef:
		return parseResponse(serial, refRaw, m)
	}
	return nil, ErrNoCommand
}

func parseRequest(serial int64, cmdRaw any, m Map) (*Envelope, error) {
	cmd, ok := cmdRaw.(string)
	if !ok {
		b, isBytes := cmdRaw.([]byte)
		if !isBytes {
			return nil, fmt.Errorf("%w: cmd is %T", ErrBadField, cmdRaw)
		}
		cmd = string(b)
	}

	args := []any{}
	if raw := m[FieldArgs]; raw != nil {
		v, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: args: %v", ErrBadField, err)
		}
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: args is %T", ErrBadField, raw)
		}
		args = list
	}

	kwargs := map[string]any{}
	if raw := m[FieldKwargs]; raw != nil {
		v, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: kwargs: %v", ErrBadField, err)
		}
		dict, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: kwargs is %T", ErrBadField, raw)
		}
		kwargs = dict
	}

	return &Envelope{Kind: KindRequest, Serial: serial, Cmd: cmd, Args: args, Kwargs: kwargs}, nil
}

func parseResponse(serial int64, refRaw any, m Map) (*Envelope, error) {
	ref, ok := Int64(refRaw)
	if !ok || ref < 0 {
		return nil, fmt.Errorf("%w: ref %v", ErrBadField, refRaw)
	}
	env := &Envelope{Kind: KindResponse, Serial: serial, Ref: ref}

	if raw := m[FieldError]; raw != nil {
		v, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: error: %v", ErrBadField, err)
		}
		dict, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: error is %T", ErrBadField, raw)
		}
		env.Error = &ErrorInfo{
			Class: text(dict[FieldClass]),
			Text:  text(dict[FieldText]),
			Data:  dict[FieldData],
		}
		return env, nil
	}

	result, err := Normalize(m[FieldResult])
	if err != nil {
		return nil, fmt.Errorf("%w: result: %v", ErrBadField, err)
	}
	env.Result = result
	return env, nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
