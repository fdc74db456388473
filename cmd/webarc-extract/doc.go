// Command webarc-extract is a reference extractor for webarc-worker.
//
// It follows the extractor contract: the URL is the last argument, the
// captured document is written to stdout, diagnostics go to stderr, and a
// non-zero exit status marks the capture as failed. Nothing is written to
// stdout unless the capture succeeds.
//
//	webarc-extract fetch https://example.com    # plain HTTP GET via colly
//	webarc-extract render https://example.com   # rendered DOM via headless Chrome
//	webarc-extract auto https://example.com     # fetch, render only app-shell pages
//
// A worker config wiring both:
//
//	extractors:
//	  fetch:
//	    path: /usr/local/bin/webarc-extract
//	    args: ["fetch", "--timeout", "30s"]
//	  render:
//	    path: /usr/local/bin/webarc-extract
//	    args: ["render"]
package main
