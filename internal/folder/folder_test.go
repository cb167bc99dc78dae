package folder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurisko/demosite/internal/failure"
	"github.com/gurisko/demosite/internal/registry"
)

const indexTemplate = `<html>
<head><title>{{COMPANY_NAME}}</title></head>
<body data-id="{{COMPANY_ID}}" data-tag="{{COMPANY_TAG}}">
<p>{{COMPANY_SUMMARY}}</p>
{{#IF_WEBSITE}}<a href="{{COMPANY_WEBSITE}}">Visit</a>{{/IF_WEBSITE}}
{{#IF_SCREENSHOT}}<img src="{{SCREENSHOT_PATH}}">{{/IF_SCREENSHOT}}
<img src="{{LOGO_URL}}">
</body>
</html>
`

const readmeTemplate = `# {{COMPANY_NAME}}

Tone: {{COMPANY_TONE}}
Upload the logo to {{S3_BUCKET_HINT}} as {{S3_LOGO_HINT}}.
`

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, '{', '{', 'C', 'O', 'M', 'P', 'A', 'N', 'Y', '_', 'N', 'A', 'M', 'E', '}', '}'}

func setupRoot(t *testing.T) (root, template string) {
	t.Helper()
	root = t.TempDir()
	template = filepath.Join(root, "company-template")
	require.NoError(t, os.MkdirAll(filepath.Join(template, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(template, "index.html"), []byte(indexTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(template, "README.md"), []byte(readmeTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(template, "img", "placeholder.png"), pngBytes, 0o644))
	return root, template
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// stagingDirs lists leftover .stage-* entries under root
func stagingDirs(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".stage-") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Co", "acme-co"},
		{"  Acme   Co.  ", "acme-co"},
		{"B&Q", "bandq"},
		{"Müller GmbH", "m-ller-gmbh"},
		{"---", "company"},
		{"", "company"},
		{"ACME_2024", "acme-2024"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Slugify(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, registry.ValidID(got))
		})
	}
}

func TestDeriveID(t *testing.T) {
	assert.Equal(t, "acme-co", DeriveID("Acme Co", map[string]bool{}))
	assert.Equal(t, "acme-co-2", DeriveID("Acme Co", map[string]bool{"acme-co": true}))
	assert.Equal(t, "acme-co-3", DeriveID("Acme Co", map[string]bool{"acme-co": true, "acme-co-2": true}))
}

func TestTaken(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "Globex"), 0o755))
	reg := &registry.Registry{Sites: []registry.Site{{ID: "acme-co"}}}

	taken, err := Taken(root, reg)
	require.NoError(t, err)
	assert.True(t, taken["acme-co"])
	assert.True(t, taken["globex"])
	assert.False(t, taken["initech"])
}

func TestBuildFinalize(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx := context.Background()

	f, err := b.Build(ctx, "acme-co", &registry.Registry{}, Fields{
		Name:    "Acme Co",
		Website: "https://acme.com",
		Tone:    "Playful",
		Tag:     "Demo",
		LogoURL: "https://logos.example/acme-co/logo.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-co", f.ID())
	assert.True(t, strings.HasPrefix(filepath.Base(f.Dir()), ".stage-acme-co-"))
	_, err = os.Stat(filepath.Join(root, "acme-co"))
	assert.True(t, os.IsNotExist(err), "folder must not appear before Finalize")

	require.NoError(t, f.Finalize(ctx, Deferred{
		Description:    "Acme makes anvils.",
		ScreenshotPath: "/assets/screenshots/acme-co.png",
	}))
	assert.Equal(t, filepath.Join(root, "acme-co"), f.Dir())
	assert.Empty(t, stagingDirs(t, root))

	index := readFile(t, filepath.Join(root, "acme-co", "index.html"))
	assert.Contains(t, index, "<title>Acme Co</title>")
	assert.Contains(t, index, `data-id="acme-co" data-tag="Demo"`)
	assert.Contains(t, index, "<p>Acme makes anvils.</p>")
	assert.Contains(t, index, `<a href="https://acme.com">Visit</a>`)
	assert.Contains(t, index, `<img src="/assets/screenshots/acme-co.png">`)
	assert.Contains(t, index, `<img src="https://logos.example/acme-co/logo.png">`)
	assert.NotContains(t, index, "{{")

	readme := readFile(t, filepath.Join(root, "acme-co", "README.md"))
	assert.Contains(t, readme, "Tone: Playful")
	assert.Contains(t, readme, "s3://demo-bucket/acme-co/ as acme-co/logo.png")

	png, err := os.ReadFile(filepath.Join(root, "acme-co", "img", "placeholder.png"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, png, "binary files are copied verbatim")
}

func TestBuildFinalize_OptionalBlocksDropped(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx := context.Background()

	f, err := b.Build(ctx, "initech", nil, Fields{Name: "Initech", Tone: "Professional", Tag: "Demo"})
	require.NoError(t, err)
	require.NoError(t, f.Finalize(ctx, Deferred{}))

	index := readFile(t, filepath.Join(root, "initech", "index.html"))
	assert.NotContains(t, index, "Visit")
	assert.NotContains(t, index, "screenshots")
	assert.Contains(t, index, "<p></p>")
	assert.NotContains(t, index, "IF_")
}

func TestBuild_EscapesValuesInMarkupOnly(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx := context.Background()

	f, err := b.Build(ctx, "ben-and-jerry-s", nil, Fields{Name: `Ben & Jerry's <Ice>`, Tone: "Warm", Tag: "Demo"})
	require.NoError(t, err)
	require.NoError(t, f.Finalize(ctx, Deferred{Description: "Cones & cups"}))

	index := readFile(t, filepath.Join(root, "ben-and-jerry-s", "index.html"))
	assert.Contains(t, index, "<title>Ben &amp; Jerry&#39;s &lt;Ice&gt;</title>")
	assert.Contains(t, index, "<p>Cones &amp; cups</p>")

	readme := readFile(t, filepath.Join(root, "ben-and-jerry-s", "README.md"))
	assert.Contains(t, readme, "# Ben & Jerry's <Ice>")
}

func TestBuild_DuplicateWritesNothing(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx := context.Background()

	require.NoError(t, os.Mkdir(filepath.Join(root, "acme-co"), 0o755))
	_, err := b.Build(ctx, "acme-co", nil, Fields{Name: "Acme Co"})
	require.ErrorIs(t, err, failure.ErrDuplicateCompany)
	assert.Contains(t, err.Error(), "acme-co")

	reg := &registry.Registry{Sites: []registry.Site{{ID: "globex", Name: "Globex"}}}
	_, err = b.Build(ctx, "globex", reg, Fields{Name: "Globex"})
	require.ErrorIs(t, err, failure.ErrDuplicateCompany)

	assert.Empty(t, stagingDirs(t, root))
	_, err = os.Stat(filepath.Join(root, "globex"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_MissingTemplate(t *testing.T) {
	root := t.TempDir()
	b := NewBuilder(root, filepath.Join(root, "company-template"), "demo-bucket")

	_, err := b.Build(context.Background(), "acme-co", nil, Fields{Name: "Acme Co"})
	require.ErrorIs(t, err, failure.ErrTemplateInstantiationFailed)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuild_CancelledContextLeavesNothing(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, "acme-co", nil, Fields{Name: "Acme Co"})
	require.ErrorIs(t, err, failure.ErrTemplateInstantiationFailed)
	assert.Empty(t, stagingDirs(t, root))
	_, err = os.Stat(filepath.Join(root, "acme-co"))
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_InvalidID(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")

	_, err := b.Build(context.Background(), "../escape", nil, Fields{Name: "x"})
	require.ErrorIs(t, err, failure.ErrMalformedRequest)
	assert.Empty(t, stagingDirs(t, root))
}

func TestFinalize_RaceSurfacesAsDuplicate(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx := context.Background()

	f, err := b.Build(ctx, "acme-co", nil, Fields{Name: "Acme Co"})
	require.NoError(t, err)

	// another run won the race
	require.NoError(t, os.Mkdir(filepath.Join(root, "acme-co"), 0o755))

	err = f.Finalize(ctx, Deferred{})
	require.ErrorIs(t, err, failure.ErrDuplicateCompany)

	f.Discard()
	assert.Empty(t, stagingDirs(t, root))
	_, err = os.Stat(filepath.Join(root, "acme-co"))
	assert.NoError(t, err, "the winner's folder is left alone")
}

func TestDiscard(t *testing.T) {
	root, template := setupRoot(t)
	b := NewBuilder(root, template, "demo-bucket")
	ctx := context.Background()

	f, err := b.Build(ctx, "acme-co", nil, Fields{Name: "Acme Co"})
	require.NoError(t, err)
	require.NoError(t, f.Finalize(ctx, Deferred{}))

	f.Discard()
	f.Discard()
	_, err = os.Stat(filepath.Join(root, "acme-co"))
	assert.True(t, os.IsNotExist(err))

	err = f.Finalize(ctx, Deferred{})
	require.ErrorIs(t, err, failure.ErrTemplateInstantiationFailed)
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme-co", "img"), 0o755))

	require.NoError(t, Remove(root, "acme-co"))
	_, err := os.Stat(filepath.Join(root, "acme-co"))
	assert.True(t, os.IsNotExist(err))

	// already gone is fine
	require.NoError(t, Remove(root, "acme-co"))

	require.ErrorIs(t, Remove(root, ".."), failure.ErrMalformedRequest)
}
