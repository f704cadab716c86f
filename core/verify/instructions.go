package verify

import (
	"fmt"
	"net/url"
)

// InstructionSet tells a domain owner what to publish for one
// verification method. Fields are ordered label/value pairs ready for
// tabular rendering.
type InstructionSet struct {
	Method Method
	Title  string
	Fields []InstructionField
}

// InstructionField is one labelled value within an InstructionSet.
type InstructionField struct {
	Label string
	Value string
}

// Instructions formats what must be published to verify domain with
// token using method. Pure formatting, no I/O.
func Instructions(domain, token string, method Method) (*InstructionSet, error) {
	switch method {
	case MethodDNSTXT:
		return &InstructionSet{
			Method: MethodDNSTXT,
			Title:  "Add a DNS TXT record",
			Fields: []InstructionField{
				{"Record type", "TXT"},
				{"Host", domain},
				{"Value", txtRecordPrefix + token},
			},
		}, nil
	case MethodHTMLFile:
		path := tokenFileDir + url.PathEscape(token) + ".html"
		return &InstructionSet{
			Method: MethodHTMLFile,
			Title:  "Upload a verification file",
			Fields: []InstructionField{
				{"Path", path},
				{"URL", "https://" + domain + path},
				{"File content", fileContentPrefix + token},
			},
		}, nil
	case MethodMetaTag:
		return &InstructionSet{
			Method: MethodMetaTag,
			Title:  "Add a meta tag to your home page",
			Fields: []InstructionField{
				{"Page", "https://" + domain + "/"},
				{"Tag", fmt.Sprintf(`<meta name=%q content=%q>`, metaTagName, token)},
			},
		}, nil
	default:
		return nil, fmt.Errorf("verify: unknown verification method %q", method)
	}
}
