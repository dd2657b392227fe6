package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// An Encoder prints JSON values using a Printer, optionally with colors.
type Encoder struct {
	Printer
	*Colorizer
}

// Encode prints the JSON value in data followed by EndValue.  The value is
// validated as it is printed; an invalid value gives an error and leaves
// partial output.
func (e *Encoder) Encode(data []byte) (err error) {
	defer CatchPrinterError(&err)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := e.writeValue(dec); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after value")
		}
		return err
	}
	e.EndValue()
	return nil
}

// EncodeValue marshals v to JSON and prints it.
func (e *Encoder) EncodeValue(v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return e.Encode(data)
}

func (e *Encoder) writeValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return e.writeObject(dec)
		case '[':
			return e.writeArray(dec)
		}
		return fmt.Errorf("unexpected %q", rune(v))
	case nil:
		e.PrintScalar(e.Printer, Null, false, nullBytes)
	case bool:
		b := falseBytes
		if v {
			b = trueBytes
		}
		e.PrintScalar(e.Printer, Boolean, false, b)
	case json.Number:
		e.PrintScalar(e.Printer, Number, false, []byte(v))
	case string:
		b, err := marshal(v)
		if err != nil {
			return err
		}
		e.PrintScalar(e.Printer, String, false, b)
	default:
		return fmt.Errorf("unexpected token %v", tok)
	}
	return nil
}

func (e *Encoder) writeArray(dec *json.Decoder) error {
	e.PrintBytes(openArrayBytes)
	first := true
	for dec.More() {
		if first {
			e.Indent()
			first = false
		} else {
			e.PrintBytes(itemSeparatorBytes)
			e.NewLine()
		}
		if err := e.writeValue(dec); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if !first {
		e.Dedent()
	}
	e.PrintBytes(closeArrayBytes)
	return nil
}

func (e *Encoder) writeObject(dec *json.Decoder) error {
	e.PrintBytes(openObjectBytes)
	first := true
	for dec.More() {
		if first {
			e.Indent()
			first = false
		} else {
			e.PrintBytes(itemSeparatorBytes)
			e.NewLine()
		}
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, err := marshal(tok)
		if err != nil {
			return err
		}
		e.PrintScalar(e.Printer, String, true, key)
		e.PrintBytes(keyValueSeparatorBytes)
		if err := e.writeValue(dec); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	if !first {
		e.Dedent()
	}
	e.PrintBytes(closeObjectBytes)
	return nil
}

// marshal is json.Marshal without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), newLineBytes), nil
}

var (
	nullBytes  = []byte("null")
	trueBytes  = []byte("true")
	falseBytes = []byte("false")

	openObjectBytes        = []byte("{")
	closeObjectBytes       = []byte("}")
	openArrayBytes         = []byte("[")
	closeArrayBytes        = []byte("]")
	itemSeparatorBytes     = []byte(",")
	keyValueSeparatorBytes = []byte(": ")
)
