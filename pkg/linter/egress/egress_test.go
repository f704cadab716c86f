package egress

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, root, rel, src string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

const violatingSource = `package workers

import (
	"context"
	"net"
	"net/http"
)

func probe(ctx context.Context, host string) {
	_, _ = net.LookupHost(host)
	d := net.Dialer{}
	_, _ = d.DialContext(ctx, "tcp", host+":80")
	_, _ = net.DefaultResolver.LookupIP(ctx, "ip", host)
	_, _ = http.Get("http://" + host)
}
`

const aliasedSource = `package workers

import (
	d "net"
	web "net/http"
)

func sneak(host string) {
	_, _ = d.LookupIP(host)
	_ = web.DefaultClient
}
`

const cleanSource = `package workers

import (
	"net/http"
	"time"
)

func client() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
`

func messages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Message
	}
	return out
}

func TestLintFileFlagsDirectUsage(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "probe.go", violatingSource)

	issues, err := LintFile(path)
	require.NoError(t, err)
	require.Len(t, issues, 4)

	msgs := messages(issues)
	assert.Contains(t, msgs[0], "net.LookupHost")
	assert.Contains(t, msgs[0], "pkg/doh")

	found := func(substr string) bool {
		for _, m := range msgs {
			if strings.Contains(m, substr) {
				return true
			}
		}
		return false
	}
	assert.True(t, found("net.Dialer"), "composite literal must be flagged: %v", msgs)
	assert.True(t, found("net.DefaultResolver"), "default resolver must be flagged: %v", msgs)
	assert.True(t, found("http.Get"), "http.Get must be flagged: %v", msgs)
}

func TestLintFileResolvesAliases(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "sneak.go", aliasedSource)

	issues, err := LintFile(path)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0].Message, "net.LookupIP")
	assert.Contains(t, issues[1].Message, "http.DefaultClient")
}

func TestLintFileAllowsCustomClients(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "clean.go", cleanSource)

	issues, err := LintFile(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLintFileMethodCallsOnLocalsAreNotFlagged(t *testing.T) {
	root := t.TempDir()
	path := writeSource(t, root, "local.go", `package workers

type dialer struct{}

func (dialer) Dial(network, addr string) error { return nil }

func use(d dialer) {
	_ = d.Dial("tcp", "example.com:80")
}
`)

	issues, err := LintFile(path)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLintProjectSkipsExemptDirectories(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "pkg/doh/resolver.go", violatingSource)
	writeSource(t, root, "core/app/app.go", violatingSource)

	cfg := NewDefaultConfig()
	issues, err := LintProject(root, cfg)
	require.NoError(t, err)
	require.Len(t, issues, 4, "only the non-exempt file must be reported")
	for _, issue := range issues {
		assert.Contains(t, issue.File, filepath.Join("core", "app"))
	}
}

func TestLintProjectSkipsTestFilesByDefault(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "core/app/app_test.go", violatingSource)

	issues, err := LintProject(root, NewDefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, issues)

	cfg := NewDefaultConfig()
	cfg.SkipTestFiles = false
	issues, err = LintProject(root, cfg)
	require.NoError(t, err)
	assert.Len(t, issues, 4)
}

func TestLintProjectSkipsUnderscoreAndVendorDirs(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "_examples/demo/demo.go", violatingSource)
	writeSource(t, root, "vendor/dep/dep.go", violatingSource)
	writeSource(t, root, "testdata/fixture.go", violatingSource)

	issues, err := LintProject(root, NewDefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLintProjectFileExemptions(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "core/app/legacy.go", violatingSource)

	cfg := NewDefaultConfig()
	cfg.ExemptFiles = []ExemptFile{{Path: "core/app/legacy.go", Reason: "migration pending"}}
	issues, err := LintProject(root, cfg)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestLintProjectStrictModeEnforcesExpiry(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "core/app/legacy.go", violatingSource)

	cfg := NewDefaultConfig()
	cfg.ExemptFiles = []ExemptFile{{
		Path:       "core/app/legacy.go",
		Reason:     "migration pending",
		ExpiryDate: "2020-01-01",
	}}

	issues, err := LintProject(root, cfg)
	require.NoError(t, err)
	assert.Empty(t, issues, "without strict mode an expired exemption still applies")

	cfg.StrictMode = true
	issues, err = LintProject(root, cfg)
	require.NoError(t, err)
	assert.Len(t, issues, 4, "strict mode must stop honoring expired exemptions")
}
