package enterprisedata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Parse decodes an inbound document. The header is read from MessageNamespace;
// the body is found by its local name so prefix variations are tolerated.
//
// Each child of an object element becomes a tabular section when it is hinted
// as one or when it has at least two children sharing one element name. A
// genuine single-row section without a hint therefore parses as a nested
// object; this ambiguity is inherent to the heuristic.
func (c *Codec) Parse(data []byte) (*Message, error) {
	if int64(len(data)) > c.maxSize {
		return nil, &ParseError{
			Reason: ReasonSizeExceeded,
			Err:    fmt.Errorf("document is %d bytes, limit is %d", len(data), c.maxSize),
		}
	}

	normalized, err := NormalizeEncoding(data)
	if err != nil {
		return nil, &ParseError{Reason: ReasonNotWellFormed, Err: err}
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(normalized); err != nil {
		return nil, &ParseError{Reason: ReasonNotWellFormed, Err: err}
	}
	if err := rejectDirectives(doc.Child); err != nil {
		return nil, &ParseError{Reason: ReasonNotWellFormed, Err: err}
	}

	root := doc.Root()
	if root == nil {
		return nil, &ParseError{Reason: ReasonNotWellFormed, Err: errors.New("document has no root element")}
	}
	if root.Tag != "Message" {
		return nil, &ParseError{Reason: ReasonHeaderMissing, Err: fmt.Errorf("unexpected root element %q", root.Tag)}
	}

	var headerEl *etree.Element
	for _, child := range root.ChildElements() {
		if child.Tag == "Header" && child.NamespaceURI() == MessageNamespace {
			headerEl = child
			break
		}
	}
	if headerEl == nil {
		return nil, &ParseError{Reason: ReasonHeaderMissing}
	}

	header, err := parseHeader(headerEl)
	if err != nil {
		return nil, &ParseError{Reason: ReasonNotWellFormed, Err: err}
	}

	msg := &Message{Header: header, Objects: []*Object{}}
	body := childByLocalName(root, "Body")
	if body == nil {
		return msg, nil
	}

	for _, objectEl := range body.ChildElements() {
		obj := &Object{
			Type: objectEl.Tag,
			Ref:  strings.TrimSpace(objectEl.SelectAttrValue("Ref", "")),
		}
		if err := c.parseChildren(objectEl, obj, 1); err != nil {
			return nil, &ParseError{Reason: ReasonNotWellFormed, Err: fmt.Errorf("object %s: %w", obj.Type, err)}
		}
		msg.Objects = append(msg.Objects, obj)
	}

	return msg, nil
}

// WellFormed reports whether data parses as XML without directives. It applies
// the same encoding handling as Parse but does not interpret the document.
func WellFormed(data []byte) error {
	normalized, err := NormalizeEncoding(data)
	if err != nil {
		return err
	}
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(normalized); err != nil {
		return err
	}
	if doc.Root() == nil {
		return errors.New("document has no root element")
	}
	return rejectDirectives(doc.Child)
}

func rejectDirectives(tokens []etree.Token) error {
	for _, token := range tokens {
		switch typed := token.(type) {
		case *etree.Directive:
			return fmt.Errorf("directive %q is not allowed", firstWord(typed.Data))
		case *etree.Element:
			if err := rejectDirectives(typed.Child); err != nil {
				return err
			}
		}
	}
	return nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func childByLocalName(el *etree.Element, name string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == name {
			return child
		}
	}
	return nil
}

func parseHeader(el *etree.Element) (Header, error) {
	var header Header
	for _, child := range el.ChildElements() {
		text := strings.TrimSpace(child.Text())
		switch child.Tag {
		case "Format":
			header.Format = text
		case "CreationDate":
			if t, ok := parseDateTime(text); ok {
				header.CreationDate = t
			}
		case "Confirmation":
			if err := parseConfirmation(child, &header); err != nil {
				return header, err
			}
		case "AvailableVersion":
			if text != "" {
				header.AvailableVersions = append(header.AvailableVersions, text)
			}
		case "AvailableObjectTypes":
			for _, typeEl := range child.ChildElements() {
				info := ObjectTypeInfo{}
				for _, field := range typeEl.ChildElements() {
					value := strings.TrimSpace(field.Text())
					switch field.Tag {
					case "Name":
						info.Name = value
					case "Sending":
						info.Sending = value
					case "Receiving":
						info.Receiving = value
					}
				}
				if info.Name != "" {
					header.AvailableObjectTypes = append(header.AvailableObjectTypes, info)
				}
			}
		}
	}
	return header, nil
}

func parseConfirmation(el *etree.Element, header *Header) error {
	for _, child := range el.ChildElements() {
		text := strings.TrimSpace(child.Text())
		switch child.Tag {
		case "ExchangePlan":
			header.ExchangePlan = text
		case "To":
			header.To = text
		case "From":
			header.From = text
		case "MessageNo":
			n, err := parseCounter(text)
			if err != nil {
				return fmt.Errorf("invalid MessageNo: %w", err)
			}
			header.MessageNo = n
		case "ReceivedNo":
			n, err := parseCounter(text)
			if err != nil {
				return fmt.Errorf("invalid ReceivedNo: %w", err)
			}
			header.ReceivedNo = n
		}
	}
	return nil
}

func parseCounter(text string) (int64, error) {
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

func (c *Codec) parseChildren(el *etree.Element, into *Object, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("nesting deeper than %d levels", maxNestingDepth)
	}
	for _, child := range el.ChildElements() {
		if c.isTabularSection(child) {
			section, err := c.parseSection(child, depth)
			if err != nil {
				return err
			}
			into.SetSection(section)
			continue
		}
		value, err := c.parseValue(child, depth)
		if err != nil {
			return err
		}
		into.Properties.Set(child.Tag, value)
	}
	return nil
}

func (c *Codec) isTabularSection(el *etree.Element) bool {
	if _, hinted := c.sectionHints[el.Tag]; hinted {
		return true
	}
	children := el.ChildElements()
	if len(children) < 2 {
		return false
	}
	rowName := children[0].Tag
	for _, child := range children[1:] {
		if child.Tag != rowName {
			return false
		}
	}
	return true
}

func (c *Codec) parseSection(el *etree.Element, depth int) (TabularSection, error) {
	section := TabularSection{Name: el.Tag}
	for _, rowEl := range el.ChildElements() {
		if section.RowName == "" {
			section.RowName = rowEl.Tag
		}
		row := Properties{}
		for _, cell := range rowEl.ChildElements() {
			value, err := c.parseValue(cell, depth+1)
			if err != nil {
				return section, err
			}
			row.Set(cell.Tag, value)
		}
		section.Rows = append(section.Rows, row)
	}
	if section.RowName == "" {
		section.RowName = DefaultRowName
	}
	return section, nil
}

func (c *Codec) parseValue(el *etree.Element, depth int) (Value, error) {
	if len(el.ChildElements()) > 0 {
		nested := &Object{}
		if err := c.parseChildren(el, nested, depth+1); err != nil {
			return Null(), err
		}
		return ObjectValue(nested), nil
	}
	return castLeaf(el.Text(), typeAttr(el)), nil
}

func typeAttr(el *etree.Element) string {
	for _, attr := range el.Attr {
		if attr.Key != "type" {
			continue
		}
		value := attr.Value
		if idx := strings.LastIndex(value, ":"); idx >= 0 {
			value = value[idx+1:]
		}
		return strings.ToLower(strings.TrimSpace(value))
	}
	return ""
}

// castLeaf applies an explicit type attribute. Numbers and booleans that fail to
// parse stay strings; dates that fail to parse become Null.
func castLeaf(text, typ string) Value {
	trimmed := strings.TrimSpace(text)
	switch typ {
	case "boolean", "bool":
		if b, err := strconv.ParseBool(trimmed); err == nil {
			return BoolValue(b)
		}
	case "int", "integer", "long", "short":
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return IntValue(n)
		}
	case "decimal", "double", "float":
		if v, err := ParseDecimal(trimmed); err == nil {
			return v
		}
	case "datetime":
		if t, ok := parseDateTime(trimmed); ok {
			return DateTimeValue(t)
		}
		return Null()
	case "date":
		if t, ok := parseDateTime(trimmed); ok {
			return DateValue(t)
		}
		return Null()
	}
	return StringValue(text)
}
