package epub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/simp-lee/epubmodel/diag"
	"github.com/simp-lee/epubmodel/markup"
)

// Well-known document locations relative to the container root.
const (
	containerPath  = "META-INF/container.xml"
	encryptionPath = "META-INF/encryption.xml"
	manifestPath   = "META-INF/manifest.xml"
	metadataPath   = "META-INF/metadata.xml"
	rightsPath     = "META-INF/rights.xml"
	signaturesPath = "META-INF/signatures.xml"
	sinfPath       = "META-INF/sinf.xml"
	mimetypePath   = "mimetype"
)

// docKind names a well-known document. Each kind carries its own absence
// policy.
type docKind string

const (
	docContainer  docKind = "container"
	docPackage    docKind = "package"
	docEncryption docKind = "encryption"
	docManifest   docKind = "manifest"
	docMetadata   docKind = "metadata"
	docRights     docKind = "rights"
	docSignatures docKind = "signatures"
	docNav        docKind = "nav"
	docNCX        docKind = "ncx"
	docMimetype   docKind = "mimetype"
)

type docPolicy struct {
	required bool
	missing  diag.Severity
	text     bool // plain text, not markup
	html     bool // retry as HTML when XML parsing fails
}

var docPolicies = map[docKind]docPolicy{
	docContainer:  {required: true, missing: diag.Warning},
	docPackage:    {required: true, missing: diag.Critical},
	docEncryption: {},
	docManifest:   {},
	docMetadata:   {},
	docRights:     {},
	docSignatures: {},
	docNav:        {required: true, missing: diag.Error, html: true},
	docNCX:        {required: true, missing: diag.Error},
	docMimetype:   {text: true},
}

// rawDoc is a fetched document. Root is set for markup documents, Text for
// plain-text ones. A rawDoc with ok == false is an absent document; absence
// is memoized like any other outcome. Found distinguishes an unparsable
// document from a missing one.
//
// Diags holds what the fetch reported. It is replayed into the scope of
// every caller, so a memoized absence is never silent.
type rawDoc struct {
	path  string
	root  *markup.Node
	text  string
	found bool
	ok    bool
	diags []diag.Diagnostic
}

// loader fetches and parses each well-known document at most once. Callers
// that ask for a document while it is being fetched wait for that fetch
// instead of starting another one.
//
// Diagnostics about a fetch are recorded with the outcome and pushed into
// the scope of every caller. Outcomes of fetches cut short by a canceled
// context are shared with concurrent waiters but not memoized.
type loader struct {
	src Source
	log logrus.FieldLogger

	group singleflight.Group

	mu   sync.Mutex
	done map[string]*rawDoc
}

func newLoader(src Source, log logrus.FieldLogger) *loader {
	return &loader{src: src, log: log, done: make(map[string]*rawDoc)}
}

func (l *loader) container(ctx context.Context, dc *diag.Context) *rawDoc {
	return l.load(ctx, docContainer, containerPath, dc)
}

func (l *loader) packageDoc(ctx context.Context, p string, dc *diag.Context) *rawDoc {
	return l.load(ctx, docPackage, p, dc)
}

func (l *loader) encryption(ctx context.Context, dc *diag.Context) *rawDoc {
	return l.load(ctx, docEncryption, encryptionPath, dc)
}

func (l *loader) nav(ctx context.Context, p string, dc *diag.Context) *rawDoc {
	return l.load(ctx, docNav, p, dc)
}

func (l *loader) ncx(ctx context.Context, p string, dc *diag.Context) *rawDoc {
	return l.load(ctx, docNCX, p, dc)
}

func (l *loader) mimetype(ctx context.Context, dc *diag.Context) *rawDoc {
	return l.load(ctx, docMimetype, mimetypePath, dc)
}

// optional fetches one of the optional META-INF documents.
func (l *loader) optional(ctx context.Context, kind docKind, dc *diag.Context) *rawDoc {
	var p string
	switch kind {
	case docEncryption:
		p = encryptionPath
	case docManifest:
		p = manifestPath
	case docMetadata:
		p = metadataPath
	case docRights:
		p = rightsPath
	case docSignatures:
		p = signaturesPath
	default:
		return &rawDoc{}
	}
	return l.load(ctx, kind, p, dc)
}

func (l *loader) load(ctx context.Context, kind docKind, p string, dc *diag.Context) *rawDoc {
	key := string(kind) + ":" + p
	if d := l.cached(key); d != nil {
		return d
	}
	v, _, _ := l.group.Do(key, func() (any, error) {
		// A fetch may have completed between the cache check and Do.
		if d := l.cached(key); d != nil {
			return d, nil
		}
		d := l.fetch(ctx, kind, p)
		if ctx.Err() != nil {
			return d, nil
		}
		l.mu.Lock()
		l.done[key] = d
		l.mu.Unlock()
		return d, nil
	})
	d := v.(*rawDoc)
	for _, x := range d.diags {
		dc.Push(x)
	}
	return d
}

func (l *loader) cached(key string) *rawDoc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[key]
}

// fetch reads and parses one document. Its diagnostics are collected on
// the returned rawDoc.
func (l *loader) fetch(ctx context.Context, kind docKind, p string) *rawDoc {
	d := &rawDoc{path: p}
	dc := diag.New(string(kind))
	defer func() { d.diags = dc.All() }()

	policy := docPolicies[kind]
	log := l.log.WithFields(logrus.Fields{"doc": string(kind), "path": p})
	log.Debug("fetching document")

	var (
		data []byte
		ok   bool
	)
	if policy.text {
		d.text, ok = l.src.ReadText(ctx, p, dc)
	} else {
		data, ok = l.src.ReadBinary(ctx, p, dc)
	}
	if !ok {
		log.Debug("document absent")
		if policy.required && ctx.Err() == nil {
			dc.With(policy.missing, "required file is missing: "+p, map[string]string{"path": p})
		}
		return d
	}
	d.found = true
	if policy.text {
		d.ok = true
		return d
	}

	root, err := markup.ParseXML(data)
	if err != nil && policy.html {
		log.WithError(err).Debug("retrying as HTML")
		if hroot, herr := markup.ParseHTML(data); herr == nil {
			dc.Warnf("%s is not well-formed XML, parsed as HTML: %v", p, err)
			root, err = hroot, nil
		}
	}
	if err != nil {
		log.WithError(err).Debug("parse failed")
		dc.With(diag.Error, "failed to parse "+p+": "+err.Error(), map[string]string{"path": p})
		return d
	}
	d.root = root
	d.ok = true
	return d
}
