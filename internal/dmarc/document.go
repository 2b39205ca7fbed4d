package dmarc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/charset"
)

// NodeID addresses an element inside a Document.
type NodeID int

type node struct {
	name     string
	parent   NodeID
	children []NodeID
	text     string
}

// Document is a parsed XML tree stored as a flat arena of element nodes.
// Node 0 is always the root element. Queries return NodeIDs into the arena.
type Document struct {
	nodes []node
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load parses payload into a Document. Any parser-level failure, an empty
// payload, a missing root element or content after the root element yields
// an error matching ErrInvalidXML. A leading UTF-8 byte order mark is ignored.
func Load(payload []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(payload, utf8BOM)))
	dec.CharsetReader = charset.Reader

	doc := &Document{}
	var stack []NodeID
	var text []*strings.Builder
	closedRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidXML, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if closedRoot {
				return nil, fmt.Errorf("%w: content after the root element", ErrInvalidXML)
			}
			id := NodeID(len(doc.nodes))
			parent := NodeID(-1)
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
				doc.nodes[parent].children = append(doc.nodes[parent].children, id)
			}
			doc.nodes = append(doc.nodes, node{name: t.Name.Local, parent: parent})
			stack = append(stack, id)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			id := stack[len(stack)-1]
			doc.nodes[id].text = text[len(text)-1].String()
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
			if len(stack) == 0 {
				closedRoot = true
			}
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, fmt.Errorf("%w: text outside the root element", ErrInvalidXML)
				}
				continue
			}
			text[len(text)-1].Write(t)
		}
	}

	if len(doc.nodes) == 0 {
		return nil, fmt.Errorf("%w: no root element", ErrInvalidXML)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unexpected end of document", ErrInvalidXML)
	}
	return doc, nil
}

// Root returns the root element.
func (d *Document) Root() NodeID {
	return 0
}

// Name returns the local name of an element.
func (d *Document) Name(id NodeID) string {
	return d.nodes[id].name
}

// Text returns the character data directly contained in an element,
// excluding the text of its descendants.
func (d *Document) Text(id NodeID) string {
	return d.nodes[id].text
}

// Query resolves an absolute path like /feedback/record/row against the
// document root. Matches are returned in document order.
func (d *Document) Query(path string) []NodeID {
	segments := splitPath(path)
	if len(segments) == 0 || d.nodes[0].name != segments[0] {
		return nil
	}
	return d.walk([]NodeID{0}, segments[1:])
}

// QueryFrom resolves a path relative to the element from.
func (d *Document) QueryFrom(from NodeID, path string) []NodeID {
	return d.walk([]NodeID{from}, splitPath(path))
}

// Children returns the direct children of id named name.
func (d *Document) Children(id NodeID, name string) []NodeID {
	var out []NodeID
	for _, c := range d.nodes[id].children {
		if d.nodes[c].name == name {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first direct child of id named name.
func (d *Document) Child(id NodeID, name string) (NodeID, bool) {
	for _, c := range d.nodes[id].children {
		if d.nodes[c].name == name {
			return c, true
		}
	}
	return 0, false
}

func (d *Document) walk(set []NodeID, segments []string) []NodeID {
	for _, seg := range segments {
		var next []NodeID
		for _, id := range set {
			next = append(next, d.Children(id, seg)...)
		}
		if len(next) == 0 {
			return nil
		}
		set = next
	}
	return set
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
