package enterprisedata

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

// Generate serializes objects under header. ReceivedNo is written only when the
// header acknowledges a peer message. The result is parsed again before it is
// returned; a document that does not survive that check is never handed out.
func (c *Codec) Generate(objects []*Object, header Header) ([]byte, error) {
	if header.MessageNo <= 0 {
		return nil, &GenerateError{
			Reason: ReasonInvalidHeader,
			Err:    fmt.Errorf("message number must be positive, got %d", header.MessageNo),
		}
	}
	if header.Format == "" {
		header.Format = FormatURI(DefaultVersion)
	}
	if header.CreationDate.IsZero() {
		header.CreationDate = c.now()
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("Message")
	root.CreateAttr("xmlns:msg", MessageNamespace)
	root.CreateAttr("xmlns:xs", xsNamespace)
	root.CreateAttr("xmlns:xsi", xsiNamespace)

	writeHeader(root, header)

	body := root.CreateElement("Body")
	body.CreateAttr("xmlns", header.Format)
	for _, obj := range objects {
		if obj == nil {
			continue
		}
		el := body.CreateElement(obj.Type)
		if obj.Ref != "" {
			el.CreateAttr("Ref", obj.Ref)
		}
		writeObject(el, obj)
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, &GenerateError{Reason: ReasonSelfCheckFailed, Err: err}
	}
	if int64(len(out)) > c.maxSize {
		return nil, &GenerateError{
			Reason: ReasonOutputTooLarge,
			Err:    fmt.Errorf("document is %d bytes, limit is %d", len(out), c.maxSize),
		}
	}

	parsed, err := c.Parse(out)
	if err != nil {
		return nil, &GenerateError{Reason: ReasonSelfCheckFailed, Err: err}
	}
	if parsed.Header.MessageNo != header.MessageNo {
		return nil, &GenerateError{
			Reason: ReasonSelfCheckFailed,
			Err:    fmt.Errorf("message number %d read back as %d", header.MessageNo, parsed.Header.MessageNo),
		}
	}
	if expected := countObjects(objects); len(parsed.Objects) != expected {
		return nil, &GenerateError{
			Reason: ReasonSelfCheckFailed,
			Err:    fmt.Errorf("wrote %d objects, read back %d", expected, len(parsed.Objects)),
		}
	}

	return out, nil
}

func countObjects(objects []*Object) int {
	n := 0
	for _, obj := range objects {
		if obj != nil {
			n++
		}
	}
	return n
}

func writeHeader(root *etree.Element, header Header) {
	headerEl := root.CreateElement("msg:Header")
	headerEl.CreateElement("msg:Format").SetText(header.Format)
	headerEl.CreateElement("msg:CreationDate").SetText(formatDateTime(header.CreationDate))

	confirmation := headerEl.CreateElement("msg:Confirmation")
	confirmation.CreateElement("msg:ExchangePlan").SetText(header.ExchangePlan)
	confirmation.CreateElement("msg:To").SetText(header.To)
	confirmation.CreateElement("msg:From").SetText(header.From)
	confirmation.CreateElement("msg:MessageNo").SetText(strconv.FormatInt(header.MessageNo, 10))
	if header.HasReceivedNo() {
		confirmation.CreateElement("msg:ReceivedNo").SetText(strconv.FormatInt(header.ReceivedNo, 10))
	}

	for _, version := range header.AvailableVersions {
		headerEl.CreateElement("msg:AvailableVersion").SetText(version)
	}

	if len(header.AvailableObjectTypes) > 0 {
		types := headerEl.CreateElement("msg:AvailableObjectTypes")
		for _, info := range header.AvailableObjectTypes {
			typeEl := types.CreateElement("msg:ObjectType")
			typeEl.CreateElement("msg:Name").SetText(info.Name)
			typeEl.CreateElement("msg:Sending").SetText(info.Sending)
			typeEl.CreateElement("msg:Receiving").SetText(info.Receiving)
		}
	}
}

func writeObject(el *etree.Element, obj *Object) {
	writeProperties(el, obj.Properties)
	for _, section := range obj.Sections {
		sectionEl := el.CreateElement(section.Name)
		rowName := section.RowName
		if rowName == "" {
			rowName = DefaultRowName
		}
		for _, row := range section.Rows {
			writeProperties(sectionEl.CreateElement(rowName), row)
		}
	}
}

func writeProperties(el *etree.Element, props Properties) {
	for _, prop := range props {
		if prop.Value.IsNull() {
			continue
		}
		writeValue(el.CreateElement(prop.Name), prop.Value)
	}
}

func writeValue(el *etree.Element, value Value) {
	switch value.Kind() {
	case KindObject:
		nested, _ := value.AsObject()
		writeObject(el, nested)
	case KindString:
		el.SetText(value.Text())
	default:
		el.CreateAttr("xsi:type", "xs:"+value.Kind().String())
		el.SetText(value.Text())
	}
}
