package text

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Processor extracts text from document files and turns it into chunks.
// One failing document must never abort a batch, so every error it returns
// is classified: ErrNotFound, ErrUnsupportedFormat, or ErrProcessing.
type Processor struct {
	chunker *Chunker
}

func NewProcessor(chunker *Chunker) *Processor {
	return &Processor{chunker: chunker}
}

// ProcessFile extracts, cleans and chunks a document file.
func (p *Processor) ProcessFile(path string) ([]Chunk, error) {
	raw, err := p.ExtractFile(path)
	if err != nil {
		return nil, err
	}

	cleaned := Clean(raw)
	if cleaned == "" {
		return nil, nil
	}

	return p.chunker.Chunk(cleaned), nil
}

// ExtractFile returns the raw text of a document file, dispatching on its
// extension. Supported: .txt, .md, .html.
func (p *Processor) ExtractFile(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("%w: stat %s: %v", ErrProcessing, path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".html":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the upload directory, not raw user input
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrProcessing, path, err)
	}

	switch ext {
	case ".md":
		return stripMarkdown(string(data)), nil
	case ".html":
		return stripHTML(string(data)), nil
	default:
		return string(data), nil
	}
}

var (
	mdCodeFenceRe = regexp.MustCompile("(?s)```.*?```")
	mdHeadingRe   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdLinkRe      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasisRe  = regexp.MustCompile("[*_`]+")
)

// stripMarkdown reduces markdown to its prose. Code fences are dropped
// entirely: embedding raw code in a healthcare knowledge base adds noise.
func stripMarkdown(s string) string {
	s = mdCodeFenceRe.ReplaceAllString(s, " ")
	s = mdHeadingRe.ReplaceAllString(s, "")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = mdEmphasisRe.ReplaceAllString(s, "")
	return s
}

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	htmlEntities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

func stripHTML(s string) string {
	s = htmlScriptRe.ReplaceAllString(s, " ")
	s = htmlTagRe.ReplaceAllString(s, " ")
	return htmlEntities.Replace(s)
}
