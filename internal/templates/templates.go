// Package templates resolves localized prompt templates.
//
// Bundles live at locales/<lang>/<group>.toml and are compiled into the
// binary. Each top-level string in a bundle is a template using $name or
// ${name} placeholders; $$ is a literal dollar sign.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Group and key names used by the RAG pipeline.
const (
	GroupRAG = "rag"

	KeySystemPrompt   = "system_prompt"
	KeyDocumentPrompt = "document_prompt"
	KeyFooterPrompt   = "footer_prompt"
)

var (
	// ErrTemplateNotFound is returned when neither language has group/key.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidTemplate is returned when a key holds something other than
	// a string, or a placeholder is malformed.
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrMissingVariable is returned when a placeholder has no value.
	ErrMissingVariable = errors.New("missing template variable")
)

//go:embed locales
var bundled embed.FS

// Locales returns the bundles shipped with the binary, rooted at locales/.
func Locales() fs.FS {
	sub, err := fs.Sub(bundled, "locales")
	if err != nil {
		panic(err)
	}
	return sub
}

// Parser looks up templates in a preferred language and falls back to a
// default language per group. Decoded bundles are cached per (language,
// group) and the parser is safe for concurrent use.
type Parser struct {
	fsys     fs.FS
	language string
	fallback string

	mu    sync.RWMutex
	cache map[bundleKey]map[string]any
}

type bundleKey struct {
	lang  string
	group string
}

// New returns a parser over fsys. A preferred language with no directory
// in fsys is replaced by fallback.
func New(fsys fs.FS, preferred, fallback string) *Parser {
	p := &Parser{
		fsys:     fsys,
		fallback: fallback,
		cache:    make(map[bundleKey]map[string]any),
	}
	p.language = fallback
	if preferred != "" {
		if info, err := fs.Stat(fsys, preferred); err == nil && info.IsDir() {
			p.language = preferred
		}
	}
	return p
}

// NewDefault returns a parser over the bundled locales.
func NewDefault(preferred, fallback string) *Parser {
	return New(Locales(), preferred, fallback)
}

// Language is the language actually in use after fallback.
func (p *Parser) Language() string { return p.language }

// Get renders group/key with vars.
func (p *Parser) Get(group, key string, vars map[string]any) (string, error) {
	if group == "" || key == "" {
		return "", fmt.Errorf("%w: group and key are required", ErrTemplateNotFound)
	}

	bundle, err := p.bundle(group)
	if err != nil {
		return "", err
	}

	raw, ok := bundle[key]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrTemplateNotFound, group, key)
	}
	tmpl, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s is %T, not a string", ErrInvalidTemplate, group, key, raw)
	}
	return Substitute(tmpl, vars)
}

// bundle returns the decoded group for the current language, or for the
// fallback language when the current one lacks the group.
func (p *Parser) bundle(group string) (map[string]any, error) {
	for _, lang := range p.candidates() {
		k := bundleKey{lang: lang, group: group}

		p.mu.RLock()
		b, ok := p.cache[k]
		p.mu.RUnlock()
		if ok {
			return b, nil
		}

		data, err := fs.ReadFile(p.fsys, path.Join(lang, group+".toml"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s: %w", lang, group, err)
		}

		decoded := make(map[string]any)
		if _, err := toml.Decode(string(data), &decoded); err != nil {
			return nil, fmt.Errorf("%w: decoding %s/%s: %v", ErrInvalidTemplate, lang, group, err)
		}

		p.mu.Lock()
		p.cache[k] = decoded
		p.mu.Unlock()
		return decoded, nil
	}
	return nil, fmt.Errorf("%w: group %q", ErrTemplateNotFound, group)
}

func (p *Parser) candidates() []string {
	if p.fallback == "" || p.fallback == p.language {
		return []string{p.language}
	}
	return []string{p.language, p.fallback}
}

// Substitute replaces $name and ${name} with vars[name]. Names are ASCII
// letters, digits and underscores, starting with a letter or underscore.
func Substitute(tmpl string, vars map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(tmpl) {
			return "", fmt.Errorf("%w: trailing $", ErrInvalidTemplate)
		}

		var name string
		switch next := tmpl[i+1]; {
		case next == '$':
			b.WriteByte('$')
			i += 2
			continue
		case next == '{':
			end := strings.IndexByte(tmpl[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated ${ at offset %d", ErrInvalidTemplate, i)
			}
			name = tmpl[i+2 : i+2+end]
			if !isIdentifier(name) {
				return "", fmt.Errorf("%w: bad placeholder ${%s}", ErrInvalidTemplate, name)
			}
			i += end + 3
		case isIdentStart(next):
			j := i + 1
			for j < len(tmpl) && isIdentPart(tmpl[j]) {
				j++
			}
			name = tmpl[i+1 : j]
			i = j
		default:
			return "", fmt.Errorf("%w: bad placeholder at offset %d", ErrInvalidTemplate, i)
		}

		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, name)
		}
		fmt.Fprint(&b, v)
	}
	return b.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}
