package folder

import (
	"bytes"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Substitution tokens understood in template text files
const (
	TokenName        = "{{COMPANY_NAME}}"
	TokenID          = "{{COMPANY_ID}}"
	TokenWebsite     = "{{COMPANY_WEBSITE}}"
	TokenTone        = "{{COMPANY_TONE}}"
	TokenTag         = "{{COMPANY_TAG}}"
	TokenSummary     = "{{COMPANY_SUMMARY}}"
	TokenDescription = "{{COMPANY_DESCRIPTION}}"
	TokenLogoURL     = "{{LOGO_URL}}"
	TokenBucketHint  = "{{S3_BUCKET_HINT}}"
	TokenLogoHint    = "{{S3_LOGO_HINT}}"
	TokenScreenshot  = "{{SCREENSHOT_PATH}}"
)

// Conditional block names: {{#IF_NAME}}...{{/IF_NAME}}
const (
	BlockWebsite    = "WEBSITE"
	BlockScreenshot = "SCREENSHOT"
)

var blockPatterns = map[string]*regexp.Regexp{
	BlockWebsite:    compileBlock(BlockWebsite),
	BlockScreenshot: compileBlock(BlockScreenshot),
}

func compileBlock(name string) *regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return regexp.MustCompile(`(?s)\{\{#IF_` + q + `\}\}(.*?)\{\{/IF_` + q + `\}\}`)
}

// pass is one round of substitutions over a text file
type pass struct {
	values map[string]string
	blocks map[string]bool // block name -> keep its content
}

// render applies p to content. Values are HTML-escaped for markup files.
func (p pass) render(content string, markup bool) string {
	for name, keep := range p.blocks {
		re, ok := blockPatterns[name]
		if !ok {
			continue
		}
		if keep {
			content = re.ReplaceAllString(content, "${1}")
		} else {
			content = re.ReplaceAllString(content, "")
		}
	}

	pairs := make([]string, 0, len(p.values)*2)
	for token, value := range p.values {
		if markup {
			value = html.EscapeString(value)
		}
		pairs = append(pairs, token, value)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

var markupExts = map[string]bool{
	".html":  true,
	".htm":   true,
	".xhtml": true,
	".svg":   true,
	".xml":   true,
}

func isMarkup(path string) bool {
	return markupExts[strings.ToLower(filepath.Ext(path))]
}

// isText reports whether content is safe to run substitutions over
func isText(content []byte) bool {
	return utf8.Valid(content) && !bytes.ContainsRune(content, 0)
}
