package iiod

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Context is the parsed description returned by PRINT.
type Context struct {
	XMLName     xml.Name      `xml:"context"`
	Name        string        `xml:"name,attr"`
	Description string        `xml:"description,attr"`
	Attributes  []ContextAttr `xml:"context-attribute"`
	Devices     []Device      `xml:"device"`
}

// ContextAttr is a context-level key/value pair such as hw_model.
type ContextAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Device is an IIO device such as ad9361-phy.
type Device struct {
	ID         string      `xml:"id,attr"`
	Name       string      `xml:"name,attr"`
	Label      string      `xml:"label,attr"`
	Channels   []Channel   `xml:"channel"`
	Attributes []NamedAttr `xml:"attribute"`
}

// Channel is a device channel. Type is "input" or "output".
type Channel struct {
	ID         string       `xml:"id,attr"`
	Name       string       `xml:"name,attr"`
	Type       string       `xml:"type,attr"`
	Attributes []NamedAttr  `xml:"attribute"`
	Scan       *ScanElement `xml:"scan-element"`
}

// NamedAttr names an attribute.
type NamedAttr struct {
	Name     string `xml:"name,attr"`
	Filename string `xml:"filename,attr"`
}

// ScanElement marks a channel that can be captured into a buffer.
type ScanElement struct {
	Index  int    `xml:"index,attr"`
	Format string `xml:"format,attr"`
}

// ParseContext decodes the XML produced by PRINT.
func ParseContext(raw []byte) (*Context, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false
	var ctx Context
	if err := dec.Decode(&ctx); err != nil {
		return nil, fmt.Errorf("decode context xml: %w", err)
	}
	return &ctx, nil
}

// Attr returns the value of a context attribute.
func (c *Context) Attr(name string) (string, bool) {
	for _, a := range c.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Device finds a device by name, id or label.
func (c *Context) Device(key string) (*Device, bool) {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == key || d.ID == key || (d.Label != "" && d.Label == key) {
			return d, true
		}
	}
	return nil, false
}

// Channel finds a channel by id and direction.
func (d *Device) Channel(id string, output bool) (*Channel, bool) {
	for i := range d.Channels {
		ch := &d.Channels[i]
		if ch.ID == id && ch.IsOutput() == output {
			return ch, true
		}
	}
	return nil, false
}

// HasAttr reports whether the device exposes the named attribute.
func (d *Device) HasAttr(name string) bool {
	for _, a := range d.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// ScanChannels returns the channels with scan elements in buffer order.
func (d *Device) ScanChannels() []Channel {
	out := make([]Channel, 0, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.Scan != nil {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scan.Index < out[j].Scan.Index })
	return out
}

// IsOutput reports whether the channel is an output channel.
func (ch *Channel) IsOutput() bool { return ch.Type == "output" }

// HasAttr reports whether the channel exposes the named attribute.
func (ch *Channel) HasAttr(name string) bool {
	for _, a := range ch.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Format describes how a scan element is stored, e.g. "le:S12/16>>0".
type Format struct {
	LittleEndian bool
	Signed       bool
	Bits         int
	Storage      int
	Shift        int
	Repeat       int
}

// ParseFormat parses an IIO scan element format string.
func ParseFormat(s string) (Format, error) {
	var f Format
	endian, rest, ok := strings.Cut(s, ":")
	if !ok || len(rest) < 2 {
		return f, fmt.Errorf("parse format %q: missing endianness", s)
	}
	switch endian {
	case "le":
		f.LittleEndian = true
	case "be":
	default:
		return f, fmt.Errorf("parse format %q: unknown endianness %q", s, endian)
	}
	switch rest[0] {
	case 's', 'S':
		f.Signed = true
	case 'u', 'U':
	default:
		return f, fmt.Errorf("parse format %q: unknown sign %q", s, rest[0])
	}
	rest = rest[1:]

	bits, rest, ok := strings.Cut(rest, "/")
	if !ok {
		return f, fmt.Errorf("parse format %q: missing storage width", s)
	}
	storage, shift, ok := strings.Cut(rest, ">>")
	if !ok {
		shift = "0"
	}
	f.Repeat = 1
	if st, rep, found := strings.Cut(storage, "X"); found {
		storage = st
		n, err := strconv.Atoi(rep)
		if err != nil {
			return f, fmt.Errorf("parse format %q: repeat: %w", s, err)
		}
		f.Repeat = n
	}
	var err error
	if f.Bits, err = strconv.Atoi(bits); err != nil {
		return f, fmt.Errorf("parse format %q: bits: %w", s, err)
	}
	if f.Storage, err = strconv.Atoi(storage); err != nil {
		return f, fmt.Errorf("parse format %q: storage: %w", s, err)
	}
	if f.Shift, err = strconv.Atoi(shift); err != nil {
		return f, fmt.Errorf("parse format %q: shift: %w", s, err)
	}
	if f.Bits <= 0 || f.Bits > f.Storage {
		return f, fmt.Errorf("parse format %q: %d bits do not fit %d bit storage", s, f.Bits, f.Storage)
	}
	return f, nil
}

// Bytes is the storage size of one sample of this element.
func (f Format) Bytes() int { return f.Storage / 8 * f.Repeat }
