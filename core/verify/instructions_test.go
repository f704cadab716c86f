package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldValue(t *testing.T, set *InstructionSet, label string) string {
	t.Helper()
	for _, f := range set.Fields {
		if f.Label == label {
			return f.Value
		}
	}
	t.Fatalf("instruction set %q has no field %q", set.Title, label)
	return ""
}

func TestInstructionsDNS(t *testing.T) {
	set, err := Instructions("example.com", testToken, MethodDNSTXT)
	require.NoError(t, err)
	assert.Equal(t, MethodDNSTXT, set.Method)
	assert.Equal(t, "TXT", fieldValue(t, set, "Record type"))
	assert.Equal(t, "example.com", fieldValue(t, set, "Host"))
	assert.Equal(t, "domainstack-verify="+testToken, fieldValue(t, set, "Value"))
}

func TestInstructionsHTMLFile(t *testing.T) {
	set, err := Instructions("example.com", testToken, MethodHTMLFile)
	require.NoError(t, err)
	assert.Equal(t, "/.well-known/domainstack-verify/"+testToken+".html",
		fieldValue(t, set, "Path"))
	assert.Equal(t, "https://example.com/.well-known/domainstack-verify/"+testToken+".html",
		fieldValue(t, set, "URL"))
	assert.Equal(t, "domainstack-verify: "+testToken, fieldValue(t, set, "File content"))
}

func TestInstructionsMetaTag(t *testing.T) {
	set, err := Instructions("example.com", testToken, MethodMetaTag)
	require.NoError(t, err)
	assert.Equal(t, `<meta name="domainstack-verify" content="`+testToken+`">`,
		fieldValue(t, set, "Tag"))
	assert.Equal(t, "https://example.com/", fieldValue(t, set, "Page"))
}

func TestInstructionsUnknownMethod(t *testing.T) {
	_, err := Instructions("example.com", testToken, Method("smoke_signal"))
	require.Error(t, err)
}
