package xmp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quickcull/cullingbackend/models"
)

const xmpToolkit = "QuickCull 1.0"

type xmlDescription struct {
	Attrs []xml.Attr `xml:",any,attr"`
	Inner string     `xml:",innerxml"`
}

type xmlRDF struct {
	Descriptions []xmlDescription `xml:"Description"`
}

type xmlMeta struct {
	RDF xmlRDF `xml:"RDF"`
}

// parsePacket decodes a sanitized packet into the merged in-memory view.
// Both the full x:xmpmeta wrapper and a bare rdf:RDF root are accepted.
func parsePacket(raw []byte) (*packet, error) {
	doc := sanitizePacket(raw)

	var meta xmlMeta
	if err := xml.Unmarshal([]byte(doc), &meta); err != nil {
		return nil, fmt.Errorf("malformed xmp packet: %w", err)
	}
	descs := meta.RDF.Descriptions
	if len(descs) == 0 {
		var rdf xmlRDF
		if err := xml.Unmarshal([]byte(doc), &rdf); err == nil {
			descs = rdf.Descriptions
		}
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("malformed xmp packet: no rdf:Description element")
	}

	p := &packet{
		groupID: models.GroupUngrouped,
		nsDecls: make(map[string]string),
	}
	var inner strings.Builder
	for _, d := range descs {
		for _, a := range d.Attrs {
			p.consumeAttr(a)
		}
		if s := strings.TrimSpace(d.Inner); s != "" {
			if inner.Len() > 0 {
				inner.WriteString("\n")
			}
			inner.WriteString(s)
		}
	}

	body := inner.String()
	p.subjectTypes = parseSubjectTypes(body)
	p.foreignInner = strings.TrimSpace(subjectTypesElem.ReplaceAllString(body, ""))
	return p, nil
}

// consumeAttr routes one rdf:Description attribute: known properties land in
// typed fields, namespace declarations are recorded for re-emission, and
// everything else is preserved verbatim.
func (p *packet) consumeAttr(a xml.Attr) {
	if a.Name.Space == "xmlns" {
		p.nsDecls[a.Name.Local] = a.Value
		return
	}
	if a.Name.Space == "" && a.Name.Local == "xmlns" {
		return
	}

	switch a.Name.Space {
	case nsRDF:
		if a.Name.Local == "about" {
			return
		}
		p.foreignAttrs = append(p.foreignAttrs, a)
	case nsXMP:
		switch a.Name.Local {
		case "Rating":
			if v, ok := parseIntAttr(a.Value); ok {
				p.rating = optInt(v)
			}
		case "Label":
			p.label = optString(a.Value)
		case "MetadataDate":
			p.metadataDate = optString(a.Value)
		default:
			p.foreignAttrs = append(p.foreignAttrs, a)
		}
	case nsXMPDM:
		if a.Name.Local == "good" {
			if v, ok := parseXMPBool(a.Value); ok {
				p.good = optBool(v)
			}
			return
		}
		p.foreignAttrs = append(p.foreignAttrs, a)
	case nsLightroom:
		if a.Name.Local == "pick" {
			if v, ok := parseXMPBool(a.Value); ok {
				p.lrPick = optBool(v)
			}
			return
		}
		p.foreignAttrs = append(p.foreignAttrs, a)
	case nsCulling:
		if !p.consumeCullingAttr(a.Name.Local, a.Value) {
			p.foreignAttrs = append(p.foreignAttrs, a)
		}
	default:
		p.foreignAttrs = append(p.foreignAttrs, a)
	}
}

// consumeCullingAttr handles the analysis namespace. Unknown properties are
// reported as unhandled so newer writers' data survives a rewrite.
func (p *packet) consumeCullingAttr(local, value string) bool {
	if strings.HasPrefix(local, extKeyPrefix) {
		if p.extended == nil {
			p.extended = make(map[string]string)
		}
		p.extended[strings.TrimPrefix(local, extKeyPrefix)] = value
		return true
	}

	switch local {
	case "analysisDate":
		if t, err := parseXMPTime(value); err == nil {
			p.analyzedAt = &t
		}
	case "modelVersion":
		p.modelVersion = optString(value)
	case "analysisVersion":
		p.analysisVersion = optString(value)
	case "sharpnessOverall":
		if v, ok := parseFloatAttr(value); ok {
			p.sharpnessOverall = optFloat(v)
		}
	case "sharpnessSubject":
		if v, ok := parseFloatAttr(value); ok {
			p.sharpnessSubject = optFloat(v)
		}
	case "subjectCount":
		if v, ok := parseIntAttr(value); ok {
			p.subjectCount = optInt(v)
		}
	case "subjectSharpnessPercentage":
		if v, ok := parseFloatAttr(value); ok {
			p.subjectSharpnessPct = optFloat(v)
		}
	case "eyesOpen":
		if v, ok := parseXMPBool(value); ok {
			p.eyesOpen = optBool(v)
		}
	case "eyeConfidence":
		if v, ok := parseFloatAttr(value); ok {
			p.eyeConfidence = optFloat(v)
		}
	case "predictedRating":
		if v, ok := parseIntAttr(value); ok {
			p.predictedRating = optInt(v)
		}
	case "predictionConfidence":
		if v, ok := parseFloatAttr(value); ok {
			p.predictionConfidence = optFloat(v)
		}
	case "groupID":
		if v, ok := parseIntAttr(value); ok {
			p.groupID = v
		}
	default:
		return false
	}
	return true
}

// subjectTypesElem matches the qc:subjectTypes element regardless of the
// prefix the writer used, including the self-closing form.
var subjectTypesElem = regexp.MustCompile(`(?s)<(?:[A-Za-z0-9_.-]+:)?subjectTypes\b(?:[^>]*/>|.*?</(?:[A-Za-z0-9_.-]+:)?subjectTypes>)`)

func parseSubjectTypes(inner string) []string {
	block := subjectTypesElem.FindString(inner)
	if block == "" {
		return nil
	}
	var seq struct {
		Items []string `xml:"Seq>li"`
	}
	if err := xml.Unmarshal([]byte(block), &seq); err != nil {
		return nil
	}
	var out []string
	for _, item := range seq.Items {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func writePacket(sidecarPath string, p *packet) error {
	if err := os.WriteFile(sidecarPath, []byte(serializePacket(p)), 0644); err != nil {
		return fmt.Errorf("failed to write sidecar %s: %w", sidecarPath, err)
	}
	return nil
}

var ownPrefixes = map[string]string{
	nsRDF:       "rdf",
	nsXMP:       "xmp",
	nsXMPDM:     "xmpDM",
	nsLightroom: "lr",
	nsCulling:   "qc",
}

// serializePacket rewrites the packet as a complete sidecar document. All
// foreign namespace declarations from the original packet are re-emitted so
// preserved attributes and child elements keep resolving.
func serializePacket(p *packet) string {
	foreignNS := make(map[string]string) // uri -> prefix
	used := map[string]bool{"x": true, "rdf": true, "xmp": true, "xmpDM": true, "lr": true, "qc": true}
	for prefix, uri := range p.nsDecls {
		if _, ours := ownPrefixes[uri]; ours || used[prefix] {
			continue
		}
		foreignNS[uri] = prefix
		used[prefix] = true
	}
	genCount := 0
	prefixFor := func(uri string) string {
		if pfx, ok := ownPrefixes[uri]; ok {
			return pfx
		}
		if pfx, ok := foreignNS[uri]; ok {
			return pfx
		}
		pfx := wellKnownPrefixes[uri]
		for pfx == "" || used[pfx] {
			genCount++
			pfx = fmt.Sprintf("ns%d", genCount)
		}
		used[pfx] = true
		foreignNS[uri] = pfx
		return pfx
	}

	// resolve foreign attrs first so every namespace they need gets declared
	type namedAttr struct{ name, value string }
	var extras []namedAttr
	for _, a := range p.foreignAttrs {
		name := a.Name.Local
		if a.Name.Space != "" {
			name = prefixFor(a.Name.Space) + ":" + a.Name.Local
		}
		extras = append(extras, namedAttr{name, a.Value})
	}

	var b strings.Builder
	b.WriteString("<?xpacket begin=\"\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\" x:xmptk=\"" + xmpToolkit + "\">\n")
	b.WriteString(" <rdf:RDF xmlns:rdf=\"" + nsRDF + "\">\n")
	b.WriteString("  <rdf:Description rdf:about=\"\"")
	b.WriteString("\n    xmlns:xmp=\"" + nsXMP + "\"")
	b.WriteString("\n    xmlns:xmpDM=\"" + nsXMPDM + "\"")
	b.WriteString("\n    xmlns:lr=\"" + nsLightroom + "\"")
	b.WriteString("\n    xmlns:qc=\"" + nsCulling + "\"")

	uris := make([]string, 0, len(foreignNS))
	for uri := range foreignNS {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		b.WriteString("\n    xmlns:" + foreignNS[uri] + "=\"" + escapeXML(uri) + "\"")
	}

	attr := func(name, value string) {
		b.WriteString("\n    " + name + "=\"" + escapeXML(value) + "\"")
	}

	if p.rating != nil {
		attr("xmp:Rating", strconv.Itoa(*p.rating))
	}
	if p.label != nil {
		attr("xmp:Label", *p.label)
	}
	if p.metadataDate != nil {
		attr("xmp:MetadataDate", *p.metadataDate)
	}
	if p.good != nil {
		attr("xmpDM:good", xmpBool(*p.good))
	}
	if p.lrPick != nil {
		attr("lr:pick", strconv.FormatBool(*p.lrPick))
	}

	if p.analyzedAt != nil {
		attr("qc:analysisDate", p.analyzedAt.Format(time.RFC3339))
	}
	if p.modelVersion != nil {
		attr("qc:modelVersion", *p.modelVersion)
	}
	if p.analysisVersion != nil {
		attr("qc:analysisVersion", *p.analysisVersion)
	}
	if p.sharpnessOverall != nil {
		attr("qc:sharpnessOverall", formatFloat(*p.sharpnessOverall))
	}
	if p.sharpnessSubject != nil {
		attr("qc:sharpnessSubject", formatFloat(*p.sharpnessSubject))
	}
	if p.subjectCount != nil {
		attr("qc:subjectCount", strconv.Itoa(*p.subjectCount))
	}
	if p.subjectSharpnessPct != nil {
		attr("qc:subjectSharpnessPercentage", formatFloat(*p.subjectSharpnessPct))
	}
	if p.eyesOpen != nil {
		attr("qc:eyesOpen", xmpBool(*p.eyesOpen))
	}
	if p.eyeConfidence != nil {
		attr("qc:eyeConfidence", formatFloat(*p.eyeConfidence))
	}
	if p.predictedRating != nil {
		attr("qc:predictedRating", strconv.Itoa(*p.predictedRating))
	}
	if p.predictionConfidence != nil {
		attr("qc:predictionConfidence", formatFloat(*p.predictionConfidence))
	}
	if p.analyzedAt != nil {
		attr("qc:groupID", strconv.Itoa(p.groupID))
	}
	if len(p.extended) > 0 {
		keys := make([]string, 0, len(p.extended))
		for k := range p.extended {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attr("qc:"+extKeyPrefix+k, p.extended[k])
		}
	}
	for _, ex := range extras {
		attr(ex.name, ex.value)
	}
	b.WriteString(">\n")

	if len(p.subjectTypes) > 0 {
		b.WriteString("   <qc:subjectTypes>\n    <rdf:Seq>\n")
		for _, t := range p.subjectTypes {
			b.WriteString("     <rdf:li>" + escapeXML(t) + "</rdf:li>\n")
		}
		b.WriteString("    </rdf:Seq>\n   </qc:subjectTypes>\n")
	}
	if inner := strings.TrimSpace(p.foreignInner); inner != "" {
		b.WriteString("   " + inner + "\n")
	}

	b.WriteString("  </rdf:Description>\n")
	b.WriteString(" </rdf:RDF>\n")
	b.WriteString("</x:xmpmeta>\n")
	b.WriteString("<?xpacket end=\"w\"?>\n")
	return b.String()
}

func parseXMPBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "-1", "no":
		return false, true
	}
	return false, false
}

func xmpBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// parseIntAttr tolerates the float spellings some writers use for integer
// properties ("3.0").
func parseIntAttr(v string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func parseFloatAttr(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseXMPTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", v)
}

func escapeXML(v string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(v)) // writing to a bytes.Buffer cannot fail
	return buf.String()
}
