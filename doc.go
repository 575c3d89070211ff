// Package epub loads the document graph of ePub 2 and ePub 3 publications:
// the OCF container, the OPF package document, the resolved spine, and a
// flat table of contents built from the Nav document or the NCX.
//
// Loading is tolerant. Malformed input does not abort a parse; every
// problem becomes a [diag.Diagnostic] on the returned [Result], and the
// pipeline continues with defaults. Only a missing or unparsable package
// document leaves the Result without a value.
//
// # Opening an ePub
//
// Use [Open] to open a zip archive or unpacked directory by path, [NewReader]
// to read from an [io.ReaderAt], or [Parse] with any [Source]:
//
//	res, err := epub.Open(ctx, "book.epub")
//	if err != nil {
//	    log.Fatal(err) // not a zip archive
//	}
//	for _, d := range res.Diagnostics {
//	    fmt.Println(d)
//	}
//	if !res.OK {
//	    return
//	}
//	pub := res.Value
//	defer pub.Close()
//
// # Table of Contents
//
// [Publication.TOC] holds the entries in pre-order with a zero-based
// nesting Level. Hrefs are archive paths with any fragment kept:
//
//	for _, item := range pub.TOC.Items {
//	    fmt.Println(strings.Repeat("  ", item.Level) + item.Label)
//	}
//
// The typed trees are available through [Publication.Nav] and
// [Publication.NCX], or [DecodeNav] and [DecodeNCX] for documents parsed
// with the markup package. [WithTOCMode] chooses whether navigation
// documents that fail schema validation are used anyway ([BestEffort]) or
// withheld ([Strict]).
//
// # Manifest Items
//
// Items are not read during Parse. [Publication.LoadItems] fetches them
// concurrently; text items are returned as UTF-8 strings and everything
// else as bytes:
//
//	items := pub.LoadSpine(ctx)
//	for _, it := range items.Value {
//	    fmt.Println(it.Path, it.Kind, len(it.Text))
//	}
//
// # Encryption
//
// Publications encrypted with Adobe ADEPT, Readium LCP or Apple FairPlay
// are still resolved, but carry a critical "publication is DRM protected"
// diagnostic. Font obfuscation alone is reported as info.
package epub
